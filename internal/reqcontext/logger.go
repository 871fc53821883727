package reqcontext

import (
	"context"

	"go.uber.org/zap"
)

// WithLogger adds a request-scoped logger to the context
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// Logger retrieves the request-scoped logger, falling back to the given
// component logger when the context carries none.
func Logger(ctx context.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx != nil {
		if logger, ok := ctx.Value(LoggerKey).(*zap.SugaredLogger); ok && logger != nil {
			return logger
		}
	}
	return fallback
}
