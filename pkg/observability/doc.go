// Package observability provides logging, metrics, tracing, health checks
// and graceful shutdown for permit.
//
// # Logging
//
// Logger writes JSON lines through log/slog and carries fields:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", 42).Info("override written")
//
// FromContext returns the request-scoped logger with request and user ids.
//
// # Metrics
//
// Metrics registers Prometheus collectors for authorization decisions,
// engine mutations, bootstrap runs and HTTP traffic. All Record methods are
// safe on a nil *Metrics, so components can run without instrumentation.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric providers as the global
// OpenTelemetry providers.
//
// # Health and shutdown
//
// HealthChecker serves liveness and readiness probes backed by the database
// and the optional Redis client. ShutdownManager stops the HTTP server and
// runs registered shutdown functions when a termination signal arrives.
package observability
