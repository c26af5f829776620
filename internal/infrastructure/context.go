package infrastructure

import (
	"context"
	"log/slog"
)

// contextKey is a type for context keys
type contextKey string

const (
	// TraceIDContextKey is the key for storing trace ID in context
	TraceIDContextKey contextKey = "trace_id"
	// RunIDContextKey is the key for storing the scoring run ID in context
	RunIDContextKey contextKey = "run_id"
	// StageContextKey is the key for the pipeline stage being executed
	StageContextKey contextKey = "stage"
)

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDContextKey)
}

// WithRunID adds a scoring run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDContextKey, runID)
}

// GetRunID retrieves the scoring run ID from context
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDContextKey)
}

// WithStage marks ctx as running the named pipeline stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageContextKey, stage)
}

// GetStage retrieves the pipeline stage from context
func GetStage(ctx context.Context) string {
	return stringValue(ctx, StageContextKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// contextAttrs returns the ids carried by ctx as log attributes. The
// explicit trace id wins over the one of an active span.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if traceID := GetTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	} else if spanID := TraceIDFromContext(ctx); spanID != "" {
		attrs = append(attrs, slog.String("trace_id", spanID))
	}
	if runID := GetRunID(ctx); runID != "" {
		attrs = append(attrs, slog.String("run_id", runID))
	}
	if stage := GetStage(ctx); stage != "" {
		attrs = append(attrs, slog.String("stage", stage))
	}
	return attrs
}
