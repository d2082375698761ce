// Package store provides counter storage backends for rate limiting.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned when an operation is attempted on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// Counter is the state of a windowed counter after an increment.
type Counter struct {
	// Value is the counter value including the increment just applied.
	Value int64

	// TTL is the time left until the counter's window elapses.
	TTL time.Duration
}

// Store defines the interface for rate limit counter storage.
//
// IncrementWithExpiry anchors the window at the first increment of a key:
// a missing or expired key starts a new counter at delta that expires after
// expiration; an existing key is incremented without touching its expiry.
type Store interface {
	// IncrementWithExpiry increments the value and sets expiration if key is new.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (*Counter, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}
