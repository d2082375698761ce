package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("backend down")

// failingStore always fails.
type failingStore struct {
	calls int
}

func (f *failingStore) IncrementWithExpiry(context.Context, string, int64, time.Duration) (*Counter, error) {
	f.calls++
	return nil, errBackendDown
}

func (f *failingStore) Delete(context.Context, string) error {
	f.calls++
	return errBackendDown
}

func (f *failingStore) Close() error { return nil }

func TestBreakerStore_UsesPrimaryWhenHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	primary := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p:", nil)
	fallback := NewMemoryStore()

	s := NewBreakerStore(primary, fallback, DefaultBreakerConfig(), nil)
	defer s.Close()

	c, err := s.IncrementWithExpiry(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Value)
	assert.True(t, mr.Exists("p:k"))
	assert.Equal(t, 0, fallback.Size())
	assert.NoError(t, s.Ping(context.Background()))
}

func TestBreakerStore_FallsBackOnError(t *testing.T) {
	primary := &failingStore{}
	fallback := NewMemoryStore()

	s := NewBreakerStore(primary, fallback, DefaultBreakerConfig(), nil)
	defer s.Close()

	ctx := context.Background()

	c, err := s.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Value)

	c, err = s.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Value, "fallback keeps counting")
}

func TestBreakerStore_OpensAfterFailures(t *testing.T) {
	primary := &failingStore{}
	fallback := NewMemoryStore()

	cfg := DefaultBreakerConfig()
	cfg.MinRequests = 3
	cfg.OpenTimeout = time.Hour

	s := NewBreakerStore(primary, fallback, cfg, nil)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.IncrementWithExpiry(ctx, "k", 1, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())

	callsWhenOpened := primary.calls
	_, err := s.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, callsWhenOpened, primary.calls, "open breaker short-circuits the primary")
}

func TestBreakerStore_Delete(t *testing.T) {
	primary := &failingStore{}
	fallback := NewMemoryStore()

	s := NewBreakerStore(primary, fallback, DefaultBreakerConfig(), nil)
	defer s.Close()

	_, err := s.IncrementWithExpiry(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)

	err = s.Delete(context.Background(), "k")
	assert.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, 0, fallback.Size(), "fallback entry is removed regardless")
}

func TestBreakerStore_PingWithoutPinger(t *testing.T) {
	s := NewBreakerStore(NewMemoryStore(), NewMemoryStore(), DefaultBreakerConfig(), nil)
	defer s.Close()

	assert.NoError(t, s.Ping(context.Background()))
}
