package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCleanupInterval is how often expired counters are evicted.
const DefaultCleanupInterval = time.Minute

// entry represents a stored value with expiration.
type entry struct {
	value      int64
	expiration time.Time
}

// MemoryStore implements Store using in-memory storage.
// A single mutex guards the map; contention is low since every
// operation is a constant-time map access.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]*entry
	clock   clockwork.Clock
	cleanup clockwork.Ticker
	done    chan struct{}
	closed  bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	clock           clockwork.Clock
	cleanupInterval time.Duration
}

// WithClock sets the clock used for expiry arithmetic.
func WithClock(clock clockwork.Clock) MemoryOption {
	return func(o *memoryOptions) {
		o.clock = clock
	}
}

// WithCleanupInterval sets how often expired entries are evicted.
func WithCleanupInterval(interval time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.cleanupInterval = interval
	}
}

// NewMemoryStore creates a new in-memory store and starts its janitor.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := memoryOptions{
		clock:           clockwork.NewRealClock(),
		cleanupInterval: DefaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cleanupInterval <= 0 {
		o.cleanupInterval = DefaultCleanupInterval
	}

	s := &MemoryStore{
		data:    make(map[string]*entry),
		clock:   o.clock,
		cleanup: o.clock.NewTicker(o.cleanupInterval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (*Counter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	now := s.clock.Now()

	e, ok := s.data[key]
	if !ok || !now.Before(e.expiration) {
		e = &entry{
			value:      0,
			expiration: now.Add(expiration),
		}
		s.data[key] = e
	}

	e.value += delta

	return &Counter{
		Value: e.value,
		TTL:   e.expiration.Sub(now),
	}, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cleanup.Stop()
	close(s.done)

	return nil
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.Chan():
			s.CleanupExpired()
		case <-s.done:
			return
		}
	}
}

// CleanupExpired removes all entries whose window has elapsed.
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for key, e := range s.data {
		if !now.Before(e.expiration) {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of entries in the store.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
