// Package relay contains the speech relay core: the connection registry,
// the dispatcher that fans messages out to connections of a role and the
// submit service that orders rate limiting before dispatch.
package relay

import (
	"context"
	"errors"
)

// MaxTextLength is the maximum number of characters delivered per message.
// Longer text is truncated, not rejected.
const MaxTextLength = 100

// Wire tokens for roles declared by peers at connection time.
const (
	TokenSpeaker = "pc"
	TokenSender  = "browser"
)

// Role is the role of a connection, fixed at connection time.
type Role string

// Connection roles.
const (
	RoleSender  Role = "sender"
	RoleSpeaker Role = "speaker"
)

// ParseRole maps a wire token to a Role. "pc" selects RoleSpeaker;
// anything else, including an empty token, selects RoleSender.
func ParseRole(token string) Role {
	if token == TokenSpeaker {
		return RoleSpeaker
	}
	return RoleSender
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// Message is a unit of text submitted for speech.
type Message struct {
	Text        string
	SubmittedBy string
}

// Handle pushes messages to one live connection.
//
// Push must not block on the peer. Pushing to a closed connection returns
// an error rather than panicking.
type Handle interface {
	Push(ctx context.Context, msg Message) error
}

// HandleFunc adapts a function to the Handle interface.
type HandleFunc func(ctx context.Context, msg Message) error

// Push implements Handle.
func (f HandleFunc) Push(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Sentinel errors for submit operations.
var (
	// ErrEmptyText indicates that the text is empty after trimming whitespace.
	ErrEmptyText = errors.New("empty text")

	// ErrNoRecipients indicates that no connection of the target role was
	// registered at dispatch time. It is an outcome, not a failure of the relay.
	ErrNoRecipients = errors.New("no recipients connected")

	// ErrRateLimited indicates that the submitter exceeded its rate limit.
	ErrRateLimited = errors.New("rate limited")
)
