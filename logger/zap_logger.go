package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names accepted by NewAppLogger.
const (
	InfoLevel  = "info"
	DebugLevel = "debug"
	ErrorLevel = "error"
)

// NewAppLogger builds the service-wide zap logger. The level comes from
// the given name; unknown names default to info.
func NewAppLogger(level string) *zap.SugaredLogger {
	config := configureLogLevel(level)
	config.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	config.OutputPaths = []string{"stdout"}
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger.Named("qaorchestrator").Sugar()
}

// configureLogLevel returns a production zap config at the given level.
func configureLogLevel(level string) zap.Config {
	config := zap.NewProductionConfig()
	switch level {
	case DebugLevel:
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case ErrorLevel:
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case InfoLevel:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return config
}

// ZapLogger wraps a zap.SugaredLogger to implement the Logger interface.
type ZapLogger struct {
	sugar  *zap.SugaredLogger
	fields map[string]interface{}
}

// Ensure ZapLogger implements Logger.
var _ Logger = (*ZapLogger)(nil)

// NewZapLogger creates a new ZapLogger wrapping the given SugaredLogger.
func NewZapLogger(sugar *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{
		sugar:  sugar,
		fields: make(map[string]interface{}),
	}
}

// Info logs an informational message with structured fields.
func (l *ZapLogger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.logWithFields(l.sugar.Infow, message, fields)
}

// Debug logs a debug message with structured fields.
func (l *ZapLogger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.logWithFields(l.sugar.Debugw, message, fields)
}

// Warn logs a warning message with structured fields.
func (l *ZapLogger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.logWithFields(l.sugar.Warnw, message, fields)
}

// Error logs an error message with structured fields.
func (l *ZapLogger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	allFields := l.mergeFields(fields)
	if err != nil {
		if allFields == nil {
			allFields = make(map[string]interface{})
		}
		allFields["error"] = err.Error()
	}
	l.logWithFields(l.sugar.Errorw, message, allFields)
}

// WithFields returns a new ZapLogger with the given fields added.
func (l *ZapLogger) WithFields(fields map[string]interface{}) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &ZapLogger{
		sugar:  l.sugar,
		fields: newFields,
	}
}

// Sync flushes any buffered log entries.
// Applications should take care to call Sync before exiting.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// logWithFields converts map fields to zap's key-value pairs.
func (l *ZapLogger) logWithFields(logFn func(string, ...interface{}), message string, fields map[string]interface{}) {
	allFields := l.mergeFields(fields)
	if len(allFields) == 0 {
		logFn(message)
		return
	}

	kvPairs := make([]interface{}, 0, len(allFields)*2)
	for k, v := range allFields {
		kvPairs = append(kvPairs, k, v)
	}
	logFn(message, kvPairs...)
}

// mergeFields merges the logger's base fields with provided fields.
func (l *ZapLogger) mergeFields(fields map[string]interface{}) map[string]interface{} {
	if len(l.fields) == 0 && len(fields) == 0 {
		return nil
	}
	result := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		result[k] = v
	}
	for k, v := range fields {
		result[k] = v
	}
	return result
}
