// Package server provides the HTTP front of the relay: the one-shot speak
// endpoint, health and metrics endpoints, and the websocket upgrade route.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/speechrelay/internal/health"
	"github.com/vyrodovalexey/speechrelay/internal/middleware"
	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit"
	"github.com/vyrodovalexey/speechrelay/internal/relay"
	"github.com/vyrodovalexey/speechrelay/internal/transport/ws"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// ErrMissingDependency is returned by New when a required component is nil.
var ErrMissingDependency = errors.New("missing server dependency")

// Config holds configuration for the HTTP server.
type Config struct {
	Port              int
	Address           string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	// MaxRequestBodySize is the maximum allowed request body size in bytes.
	// Set to 0 to disable the limit.
	MaxRequestBodySize int64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Port:               3000,
		ReadHeaderTimeout:  10 * time.Second,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxHeaderBytes:     1 << 20,  // 1 MB
		MaxRequestBodySize: 64 << 10, // 64 KB
	}
}

// Dependencies are the components the server routes requests to.
// Service and Registry are required.
type Dependencies struct {
	Service   *relay.Service
	Registry  *relay.Registry
	WebSocket *ws.Handler
	Health    *health.Handler
	Metrics   *observability.Metrics
	KeyFunc   ratelimit.KeyFunc
	Logger    observability.Logger
}

// Server is the HTTP server of the relay.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	config     *Config
	service    *relay.Service
	websocket  *ws.Handler
	health     *health.Handler
	metrics    *observability.Metrics
	logger     observability.Logger
	mu         sync.RWMutex
	running    bool
}

// New creates a server and registers its routes.
func New(config *Config, deps Dependencies) (*Server, error) {
	if deps.Service == nil || deps.Registry == nil {
		return nil, ErrMissingDependency
	}
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.KeyFunc == nil {
		deps.KeyFunc = ratelimit.RemoteIPKeyFunc
	}
	if deps.Health == nil {
		deps.Health = health.NewHandler(deps.Registry.Count, deps.Logger)
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:    gin.New(),
		config:    config,
		service:   deps.Service,
		websocket: deps.WebSocket,
		health:    deps.Health,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}

	s.engine.Use(
		middleware.Recovery(s.logger),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:          s.logger,
			SkipHealthCheck: true,
		}),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(),
	)
	if config.MaxRequestBodySize > 0 {
		s.engine.Use(s.maxRequestBodySizeMiddleware())
	}

	s.registerRoutes(deps.KeyFunc)

	return s, nil
}

func (s *Server) registerRoutes(keyFunc ratelimit.KeyFunc) {
	s.engine.POST("/speak",
		middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:        s.service.Limiter(),
			KeyFunc:        keyFunc,
			Logger:         s.logger,
			Metrics:        s.metrics,
			IncludeHeaders: true,
		}),
		s.handleSpeak,
	)

	s.health.RegisterRoutes(s.engine)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.websocket != nil {
		s.engine.GET("/ws", gin.WrapH(s.websocket))
	}
}

// maxRequestBodySizeMiddleware returns a middleware that limits request body size.
func (s *Server) maxRequestBodySizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxRequestBodySize)
		c.Next()
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return s.Serve(ln)
}

// Serve serves requests on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
	}
	httpServer := s.httpServer

	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", ln.Addr().String()),
	)

	err := httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop marks the relay as draining, closes websocket connections and
// shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")
	s.health.SetDraining(true)

	// Upgraded connections are hijacked and not tracked by Shutdown.
	if s.websocket != nil {
		s.websocket.CloseAll()
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
