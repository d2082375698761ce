package ratelimit

import (
	"fmt"
	"time"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit/store"
)

// Store types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// FactoryConfig holds configuration for creating rate limiters.
type FactoryConfig struct {
	// Requests is the number of points per window.
	Requests int

	// Window is the window length.
	Window time.Duration

	// StoreType is "memory" or "redis". The redis store falls back to
	// memory while Redis is failing.
	StoreType string

	// CleanupInterval is how often idle in-memory counters are evicted.
	CleanupInterval time.Duration

	// Redis configuration (if StoreType is redis).
	Redis *store.RedisConfig

	// Breaker configures the circuit breaker guarding Redis.
	Breaker store.BreakerConfig
}

// DefaultFactoryConfig returns a FactoryConfig with default values:
// one request per five seconds, kept in memory.
func DefaultFactoryConfig() *FactoryConfig {
	return &FactoryConfig{
		Requests:        1,
		Window:          5 * time.Second,
		StoreType:       StoreMemory,
		CleanupInterval: store.DefaultCleanupInterval,
		Redis:           store.DefaultRedisConfig(),
		Breaker:         store.DefaultBreakerConfig(),
	}
}

// NewLimiter creates a fixed window limiter based on the configuration.
func NewLimiter(config *FactoryConfig, logger observability.Logger) (*FixedWindowLimiter, error) {
	if config == nil {
		config = DefaultFactoryConfig()
	}
	if config.Requests <= 0 {
		return nil, fmt.Errorf("rate limit requests must be positive, got %d", config.Requests)
	}
	if config.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %s", config.Window)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	memory := store.NewMemoryStore(store.WithCleanupInterval(config.CleanupInterval))

	var s store.Store
	switch config.StoreType {
	case StoreMemory, "":
		s = memory
	case StoreRedis:
		redisStore, err := store.NewRedisStore(config.Redis, logger)
		if err != nil {
			_ = memory.Close()
			return nil, fmt.Errorf("failed to create Redis store: %w", err)
		}
		s = store.NewBreakerStore(redisStore, memory, config.Breaker, logger)
	default:
		_ = memory.Close()
		return nil, fmt.Errorf("unknown store type: %s", config.StoreType)
	}

	logger.Info("rate limiter created",
		observability.String("store", config.StoreType),
		observability.Int("requests", config.Requests),
		observability.Duration("window", config.Window),
	)

	return NewFixedWindowLimiter(s, config.Requests, config.Window, logger), nil
}
