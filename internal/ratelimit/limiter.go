// Package ratelimit provides per-source rate limiting for the speech relay.
// It implements a fixed window anchored at the first request of each key.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrLimitExceeded is returned by Consume when the key's budget for the
// current window is spent.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow consumes one point for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// GetLimit returns the limit configuration.
	GetLimit() *Limit

	// Reset resets the rate limit state for the given key.
	Reset(ctx context.Context, key string) error
}

// Limit represents rate limit configuration.
type Limit struct {
	// Requests is the maximum number of requests allowed in the window.
	Requests int

	// Window is the time window for the rate limit.
	Window time.Duration
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration
}

// Consume consumes one point for key and converts a rejection into
// ErrLimitExceeded. A limiter error is returned as is and must be
// treated as a rejection by callers.
func Consume(ctx context.Context, l Limiter, key string) (*Result, error) {
	result, err := l.Allow(ctx, key)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, ErrLimitExceeded
	}
	return result, nil
}

// NoopLimiter is a rate limiter that always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// GetLimit implements Limiter.
func (l *NoopLimiter) GetLimit() *Limit {
	return nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}
