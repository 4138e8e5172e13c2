package middleware

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type loggerKey struct{}

// ContextWithLogger stashes a request-scoped logger in the context. The bot
// dispatch uses this so handlers log with the request ID already attached.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithTraceLogger is HTTP middleware for the ops server: requests carrying a
// valid trace span get a context logger with trace_id/span_id fields.
func WithTraceLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span := trace.SpanFromContext(r.Context())
			if span.SpanContext().IsValid() {
				traced := logger.With(
					zap.String("trace_id", span.SpanContext().TraceID().String()),
					zap.String("span_id", span.SpanContext().SpanID().String()),
				)
				r = r.WithContext(ContextWithLogger(r.Context(), traced))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerFromContext returns the request-scoped logger if one was stashed.
// Otherwise it returns fallback, enriched with trace IDs when the context
// carries a valid span.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return fallback.With(
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return fallback
}

// LoggerFromRequest is LoggerFromContext for HTTP handlers.
func LoggerFromRequest(r *http.Request, fallback *zap.Logger) *zap.Logger {
	return LoggerFromContext(r.Context(), fallback)
}
