package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

// traceIDContextKey is the key under which a trace ID travels in a context
const traceIDContextKey contextKey = "trace_id"

// GenerateTraceID returns a fresh trace identifier for request correlation
func GenerateTraceID() string {
	return uuid.NewString()
}

// WithTraceID attaches the given trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey, traceID)
}

// ContextWithTraceID attaches a new trace ID to the context
func ContextWithTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, GenerateTraceID())
}

// EnsureTraceID attaches a trace ID only when the context has none
func EnsureTraceID(ctx context.Context) context.Context {
	if TraceIDFromContext(ctx) != "" {
		return ctx
	}
	return ContextWithTraceID(ctx)
}

// TraceIDFromContext extracts the trace ID from the context, or ""
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDContextKey).(string); ok {
		return id
	}
	return ""
}

// LoggerWithContext returns the global logger enriched with the context's
// trace ID so call sites do not have to thread it manually.
func LoggerWithContext(ctx context.Context) *slog.Logger {
	logger := GetLogger()
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}
	return logger
}
