package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
)

// incrementWithExpiryScript is the Lua script for atomic increment with expiry.
// KEYS[1] = key
// ARGV[1] = delta
// ARGV[2] = expiration in milliseconds
// Returns {value, ttl in milliseconds}.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
		ttl = tonumber(ARGV[2])
	end
	return {current, ttl}
`)

// RedisConfig holds configuration for Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		Prefix:       "speechrelay:ratelimit:",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger observability.Logger
	closed bool
	mu     sync.Mutex
}

// NewRedisStore creates a Redis store and verifies connectivity.
func NewRedisStore(config *RedisConfig, logger observability.Logger) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", config.Address, err)
	}

	return NewRedisStoreFromClient(client, config.Prefix, logger), nil
}

// NewRedisStoreFromClient wraps an existing Redis client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, logger observability.Logger) *RedisStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// prefixKey adds the prefix to the key.
func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// IncrementWithExpiry implements Store.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (*Counter, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before redis increment: %w", err)
	}

	res, err := incrementWithExpiryScript.Run(
		ctx, s.client, []string{s.prefixKey(key)}, delta, expiration.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis increment with expiry error: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis increment with expiry: unexpected reply length %d", len(res))
	}

	return &Counter{
		Value: res[0],
		TTL:   time.Duration(res[1]) * time.Millisecond,
	}, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis delete: %w", err)
	}

	if err := s.client.Del(ctx, s.prefixKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Ping implements Pinger.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Debug("closing Redis store")
	return s.client.Close()
}
