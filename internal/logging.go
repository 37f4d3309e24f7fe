package formrelay

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

var fallbackLogger = zap.NewNop()

// SetFallbackLogger replaces the logger returned when a context carries none.
func SetFallbackLogger(logger *zap.Logger) {
	if logger != nil {
		fallbackLogger = logger
	}
}

// ContextWithLogger attaches a logger to the context; handlers can retrieve it later.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger or a fallback logger.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return fallbackLogger
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallbackLogger
}
