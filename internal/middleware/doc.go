// Package middleware provides the gin middleware chain of the relay's HTTP
// surface: request ids and access logging, panic recovery, security and
// CORS headers, and per-client rate limiting.
package middleware
