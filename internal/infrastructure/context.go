package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

// TraceIDContextKey carries the request trace id.
const TraceIDContextKey contextKey = "trace_id"

// WithTraceID returns ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID returns the trace id carried by ctx, or "".
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(TraceIDContextKey).(string)
	return traceID
}

// GenerateTraceID returns a fresh random trace id.
func GenerateTraceID() string {
	return uuid.NewString()
}

// WithComponent tags logger with the component name. A nil logger means the
// service logger.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = GetLogger()
	}
	return logger.With(slog.String("component", component))
}
