package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/vyrodovalexey/speechrelay/internal/auth"
	"github.com/vyrodovalexey/speechrelay/internal/config"
	"github.com/vyrodovalexey/speechrelay/internal/health"
	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit/store"
	"github.com/vyrodovalexey/speechrelay/internal/relay"
	"github.com/vyrodovalexey/speechrelay/internal/server"
	"github.com/vyrodovalexey/speechrelay/internal/transport/ws"
)

const metricsNamespace = "speechrelay"

// application holds all application components.
type application struct {
	config   *config.Config
	logger   observability.Logger
	metrics  *observability.Metrics
	limiter  *ratelimit.FixedWindowLimiter
	registry *relay.Registry
	server   *server.Server
}

// newApplication wires the relay components together.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	authenticator, err := auth.New(cfg.SpeechKey)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewLimiter(limiterConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	metrics := observability.NewMetrics(metricsNamespace)
	registry := relay.NewRegistry()
	for _, role := range []relay.Role{relay.RoleSpeaker, relay.RoleSender} {
		if err := metrics.RegisterClientGauge(role.String(), func() int {
			return registry.CountByRole(role)
		}); err != nil {
			_ = limiter.Close()
			return nil, fmt.Errorf("failed to register client gauge: %w", err)
		}
	}
	dispatcher := relay.NewDispatcher(registry,
		relay.WithDispatcherLogger(logger),
		relay.WithDispatcherMetrics(metrics),
	)
	service := relay.NewService(limiter, dispatcher,
		relay.WithServiceLogger(logger),
		relay.WithServiceMetrics(metrics),
	)

	keyFunc := ratelimit.KeyFuncFor(cfg.TrustProxyHeaders)
	wsHandler := ws.NewHandler(authenticator, registry, service,
		ws.WithLogger(logger),
		ws.WithMetrics(metrics),
		ws.WithKeyFunc(keyFunc),
	)

	healthHandler := health.NewHandler(registry.Count, logger)
	if pinger, ok := limiter.Store().(store.Pinger); ok {
		healthHandler.AddCheck(health.PingCheck("ratelimit_store", pinger))
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = cfg.Port

	srv, err := server.New(serverConfig, server.Dependencies{
		Service:   service,
		Registry:  registry,
		WebSocket: wsHandler,
		Health:    healthHandler,
		Metrics:   metrics,
		KeyFunc:   keyFunc,
		Logger:    logger,
	})
	if err != nil {
		_ = limiter.Close()
		return nil, err
	}

	return &application{
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		limiter:  limiter,
		registry: registry,
		server:   srv,
	}, nil
}

// limiterConfig maps the environment settings onto the limiter factory.
func limiterConfig(cfg *config.Config) *ratelimit.FactoryConfig {
	fc := ratelimit.DefaultFactoryConfig()
	fc.Requests = cfg.RateLimitPoints
	fc.Window = cfg.RateLimitDuration
	fc.StoreType = cfg.RateLimitStore

	redisConfig := store.DefaultRedisConfig()
	redisConfig.Address = cfg.RedisAddr
	redisConfig.Password = cfg.RedisPassword
	redisConfig.DB = cfg.RedisDB
	fc.Redis = redisConfig

	return fc
}

// run listens on the configured port and serves until ctx is done.
func (a *application) run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.config.Addr())
	if err != nil {
		_ = a.limiter.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.config.Addr(), err)
	}
	return a.serve(ctx, ln)
}

// serve serves on ln until ctx is done, then shuts down gracefully.
func (a *application) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(ln)
	}()

	a.logger.Info("relay listening",
		observability.String("address", ln.Addr().String()),
	)

	select {
	case err := <-errCh:
		_ = a.limiter.Close()
		return err
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	}

	return a.shutdown(errCh)
}

// shutdown stops the server within the configured timeout and releases
// the limiter.
func (a *application) shutdown(errCh <-chan error) error {
	timeout := a.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Error("failed to stop server gracefully", observability.Error(err))
		firstErr = err
	}
	if err := <-errCh; err != nil && firstErr == nil {
		firstErr = err
	}

	if err := a.limiter.Close(); err != nil {
		a.logger.Error("failed to close rate limiter", observability.Error(err))
	}

	a.logger.Info("relay stopped")
	return firstErr
}
