package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	executionIDKey ctxKey = iota
	definitionIDKey
	stepIndexKey
)

// WithExecutionID returns a context with the execution ID set.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithDefinitionID returns a context with the workflow definition ID set.
func WithDefinitionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, definitionIDKey, id)
}

// WithStepIndex returns a context with the current step index set.
func WithStepIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, stepIndexKey, index)
}

// ExecutionID extracts the execution ID from the context, or "" if absent.
func ExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// DefinitionID extracts the definition ID from the context, or "" if absent.
func DefinitionID(ctx context.Context) string {
	v, _ := ctx.Value(definitionIDKey).(string)
	return v
}

// StepIndex extracts the step index from the context. The bool reports
// whether an index was set; step 0 is a valid value.
func StepIndex(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(stepIndexKey).(int)
	return v, ok
}

// WithIDs sets execution and definition correlation IDs on the context at once.
func WithIDs(ctx context.Context, executionID, definitionID string) context.Context {
	ctx = WithExecutionID(ctx, executionID)
	ctx = WithDefinitionID(ctx, definitionID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only values present on the context are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := ExecutionID(ctx); id != "" {
		logger = logger.With(slog.String("execution_id", id))
	}
	if id := DefinitionID(ctx); id != "" {
		logger = logger.With(slog.String("definition_id", id))
	}
	if idx, ok := StepIndex(ctx); ok {
		logger = logger.With(slog.Int("step_index", idx))
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
	if v := ExecutionID(ctx); v != "" {
		r.AddAttrs(slog.String("execution_id", v))
	}
	if v := DefinitionID(ctx); v != "" {
		r.AddAttrs(slog.String("definition_id", v))
	}
	if idx, ok := StepIndex(ctx); ok {
		r.AddAttrs(slog.Int("step_index", idx))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
