// Package auth verifies that connecting clients hold the relay's shared secret.
package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	// ErrEmptySecret is returned when an Authenticator is created without a secret.
	ErrEmptySecret = errors.New("shared secret must not be empty")

	// ErrInvalidCredential indicates that the presented credential does not
	// match the shared secret.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Authenticator checks credentials against a single shared secret.
// It is immutable after construction and safe for concurrent use.
type Authenticator struct {
	secret []byte
}

// New creates an Authenticator for secret.
func New(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// Authenticate returns nil when credential equals the shared secret and
// ErrInvalidCredential otherwise, including for an empty credential.
// The comparison runs in constant time with respect to the content.
func (a *Authenticator) Authenticate(credential string) error {
	if credential == "" {
		return ErrInvalidCredential
	}
	if subtle.ConstantTimeCompare([]byte(credential), a.secret) != 1 {
		return ErrInvalidCredential
	}
	return nil
}
