// Package logger provides the structured logging contract shared by every
// package of the service, together with a zap-backed production
// implementation and a no-op logger for libraries and tests.
package logger

import (
	"context"
)

// Logger defines the standard interface for structured logging.
// Implementations provide structured logging with context and field
// support, so call sites never depend on a concrete logging library.
type Logger interface {
	// Info logs an informational message with optional structured fields.
	Info(ctx context.Context, message string, fields map[string]interface{})

	// Debug logs a debug message with optional structured fields.
	Debug(ctx context.Context, message string, fields map[string]interface{})

	// Warn logs a warning message with optional structured fields.
	Warn(ctx context.Context, message string, fields map[string]interface{})

	// Error logs an error message with the error and optional structured fields.
	Error(ctx context.Context, message string, err error, fields map[string]interface{})

	// WithFields returns a new Logger with the given fields added to all
	// log messages. Useful for contextual information that should appear
	// in all subsequent logs (e.g. the pipeline identifier).
	WithFields(fields map[string]interface{}) Logger
}

// NopLogger is a logger that does nothing.
// Useful for testing or when logging is not needed.
type NopLogger struct{}

// Ensure NopLogger implements Logger.
var _ Logger = (*NopLogger)(nil)

// Info does nothing.
func (l *NopLogger) Info(ctx context.Context, message string, fields map[string]interface{}) {}

// Debug does nothing.
func (l *NopLogger) Debug(ctx context.Context, message string, fields map[string]interface{}) {}

// Warn does nothing.
func (l *NopLogger) Warn(ctx context.Context, message string, fields map[string]interface{}) {}

// Error does nothing.
func (l *NopLogger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
}

// WithFields returns the same NopLogger.
func (l *NopLogger) WithFields(fields map[string]interface{}) Logger {
	return l
}
