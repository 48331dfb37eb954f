// Package shared carries cross-cutting request-scoped values (trace/run/chat
// identifiers) through context.Context, and houses small utilities (secret
// redaction) used across otherwise-unrelated packages.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type runKey struct{}
type chatKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRunID attaches a run_id (one per stream/task attempt) to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID extracts run_id from context. Returns "-" if absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewRunID generates a new run_id.
func NewRunID() string {
	return uuid.NewString()
}

// WithChatID attaches the chat_id that a stream or queue operation is scoped to.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatKey{}, chatID)
}

// ChatID extracts chat_id from context. Returns "" if absent.
func ChatID(ctx context.Context) string {
	v, _ := ctx.Value(chatKey{}).(string)
	return v
}
