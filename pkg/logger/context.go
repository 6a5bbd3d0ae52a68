package logger

import (
	"context"

	"go.uber.org/zap"
)

type requestLoggerKey struct{}

// Attach stores base, enriched with fields, as the request logger of ctx.
// The request-id middleware calls it once per request.
func Attach(ctx context.Context, base *zap.Logger, fields ...zap.Field) context.Context {
	if len(fields) > 0 {
		base = base.With(fields...)
	}
	return context.WithValue(ctx, requestLoggerKey{}, base)
}

// Lookup returns the request logger and whether one was attached.
func Lookup(ctx context.Context) (*zap.Logger, bool) {
	l, ok := ctx.Value(requestLoggerKey{}).(*zap.Logger)
	return l, ok && l != nil
}

// From returns the request logger, or a no-op logger outside a request.
func From(ctx context.Context) *zap.Logger {
	if l, ok := Lookup(ctx); ok {
		return l
	}
	return zap.NewNop()
}
