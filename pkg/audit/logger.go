package audit

import (
	"context"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NoOpLogger discards every event
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that records nothing
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Log discards the event
func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

// Close does nothing
func (NoOpLogger) Close() error {
	return nil
}

// contextKey is the type for context keys
type contextKey string

// AuditLoggerKey is the context key for the audit logger
const AuditLoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoOpLogger{}
}
