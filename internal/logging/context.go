package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	projectKey ctxKey = iota
	appIDKey
	sequenceKey
)

// WithProject returns a context with the project set.
func WithProject(ctx context.Context, project string) context.Context {
	return context.WithValue(ctx, projectKey, project)
}

// WithAppID returns a context with the application run ID set.
func WithAppID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, appIDKey, id)
}

// WithSequence returns a context with the step sequence ID set.
func WithSequence(ctx context.Context, seq int64) context.Context {
	return context.WithValue(ctx, sequenceKey, seq)
}

// Project extracts the project from the context, or "" if absent.
func Project(ctx context.Context) string {
	v, _ := ctx.Value(projectKey).(string)
	return v
}

// AppID extracts the application run ID from the context, or "" if absent.
func AppID(ctx context.Context) string {
	v, _ := ctx.Value(appIDKey).(string)
	return v
}

// Sequence extracts the step sequence ID from the context.
func Sequence(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(sequenceKey).(int64)
	return v, ok
}

// WithRun sets project and app ID on the context at once.
func WithRun(ctx context.Context, project, appID string) context.Context {
	return WithAppID(WithProject(ctx, project), appID)
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := Project(ctx); v != "" {
		attrs = append(attrs, slog.String("project", v))
	}
	if v := AppID(ctx); v != "" {
		attrs = append(attrs, slog.String("app_id", v))
	}
	if v, ok := Sequence(ctx); ok {
		attrs = append(attrs, slog.Int64("sequence_id", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
