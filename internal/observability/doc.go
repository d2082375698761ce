// Package observability provides logging and metrics functionality
// for the speech relay.
//
// # Logging
//
// The Logger interface wraps zap for structured logging:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("connection admitted",
//	    observability.String("role", "speaker"),
//	    observability.Int("clients", 2),
//	)
//
// # Metrics
//
// Prometheus metrics for connections, authentication, submissions,
// pushes and rate limiting, exposed through a dedicated registry:
//
//	metrics := observability.NewMetrics("speechrelay")
//	handler := metrics.Handler()
package observability
