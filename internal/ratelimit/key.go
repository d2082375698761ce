package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc is a function that extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// RemoteIPKeyFunc uses the peer address of the connection as the key.
func RemoteIPKeyFunc(r *http.Request) string {
	return remoteIP(r.RemoteAddr)
}

// ForwardedIPKeyFunc uses the client IP reported by a reverse proxy or
// tunnel in front of the relay, falling back to the peer address.
// Only use it when every request passes through a trusted proxy.
func ForwardedIPKeyFunc(r *http.Request) string {
	return GetClientIP(r)
}

// KeyFuncFor selects the key function for the deployment.
func KeyFuncFor(trustProxyHeaders bool) KeyFunc {
	if trustProxyHeaders {
		return ForwardedIPKeyFunc
	}
	return RemoteIPKeyFunc
}

// GetClientIP extracts the client IP from proxy headers or the peer address.
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Check CF-Connecting-IP header (Cloudflare tunnels)
	if cfip := r.Header.Get("CF-Connecting-IP"); cfip != "" {
		return cfip
	}

	return remoteIP(r.RemoteAddr)
}

// remoteIP strips the port and IPv6 brackets from a peer address.
func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
}
