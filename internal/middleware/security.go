package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityConfig holds the security headers set on every response.
type SecurityConfig struct {
	ContentSecurityPolicy     string
	XFrameOptions             string
	XContentTypeOptions       string
	ReferrerPolicy            string
	CrossOriginOpenerPolicy   string
	CrossOriginResourcePolicy string
}

// DefaultSecurityConfig returns a SecurityConfig with secure defaults. The
// policy permits inline scripts and styles for the bundled web page.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		ContentSecurityPolicy:     "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'",
		XFrameOptions:             "SAMEORIGIN",
		XContentTypeOptions:       "nosniff",
		ReferrerPolicy:            "no-referrer",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
	}
}

// SecurityHeaders returns a middleware that adds security headers.
func SecurityHeaders(config *SecurityConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultSecurityConfig()
	}

	headers := map[string]string{
		"Content-Security-Policy":      config.ContentSecurityPolicy,
		"X-Frame-Options":              config.XFrameOptions,
		"X-Content-Type-Options":       config.XContentTypeOptions,
		"Referrer-Policy":              config.ReferrerPolicy,
		"Cross-Origin-Opener-Policy":   config.CrossOriginOpenerPolicy,
		"Cross-Origin-Resource-Policy": config.CrossOriginResourcePolicy,
	}
	for name, value := range headers {
		if value == "" {
			delete(headers, name)
		}
	}

	return func(c *gin.Context) {
		for name, value := range headers {
			c.Header(name, value)
		}
		c.Next()
	}
}

// CORS returns a middleware that allows cross-origin requests with
// credentials from any origin by reflecting the request's Origin.
// Preflight requests are answered with 204.
func CORS() gin.HandlerFunc {
	allowMethods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", allowMethods)
			if reqHeaders := c.GetHeader("Access-Control-Request-Headers"); reqHeaders != "" {
				c.Header("Access-Control-Allow-Headers", reqHeaders)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
