package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit/store"
)

// FixedWindowLimiter implements the fixed window rate limiting algorithm.
//
// Each key's window starts at its first request and lasts window. Every
// attempt is counted, including rejected ones, so a key that keeps
// retrying stays blocked until its window elapses. Two adjacent windows
// can admit up to 2*limit requests in a short span.
type FixedWindowLimiter struct {
	store  store.Store
	limit  int
	window time.Duration
	logger observability.Logger
}

// NewFixedWindowLimiter creates a new fixed window rate limiter.
// A nil store selects an in-memory store.
func NewFixedWindowLimiter(
	s store.Store,
	limit int,
	window time.Duration,
	logger observability.Logger,
) *FixedWindowLimiter {
	if s == nil {
		s = store.NewMemoryStore()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &FixedWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	counter, err := l.store.IncrementWithExpiry(ctx, key, 1, l.window)
	if err != nil {
		return nil, fmt.Errorf("failed to increment counter for %q: %w", key, err)
	}

	allowed := counter.Value <= int64(l.limit)

	remaining := l.limit - int(counter.Value)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := counter.TTL
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
		l.logger.Debug("rate limit exceeded",
			observability.String("key", key),
			observability.Int64("count", counter.Value),
			observability.Int("limit", l.limit),
		)
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// GetLimit implements Limiter.
func (l *FixedWindowLimiter) GetLimit() *Limit {
	return &Limit{
		Requests: l.limit,
		Window:   l.window,
	}
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

// Store returns the underlying counter store.
func (l *FixedWindowLimiter) Store() store.Store {
	return l.store
}

// Close releases the underlying store.
func (l *FixedWindowLimiter) Close() error {
	return l.store.Close()
}
