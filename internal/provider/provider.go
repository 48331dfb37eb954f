// Package provider implements the narrow AI provider client contract the
// spec treats as an external collaborator (spec §1: "we specify only the
// event shape it produces and the cancel/session callbacks it honors"),
// plus one concrete implementation backed by Genkit, mirroring the
// teacher's GenkitBrain.Stream but trimmed to this contract.
package provider

import (
	"context"

	"chatstreamd/internal/model"
)

// Event type tags (spec §3 GLOSSARY "StreamEvent").
const (
	EventToolStarted   = "tool_started"
	EventToolCompleted = "tool_completed"
	EventTextDelta     = "text_delta"
	EventSystem        = "system"
	EventResult        = "result"
)

// IsInjectionSafeBoundary reports whether e is a safe point for the Queue
// Injector to be invited (spec §4.6: "e.type == tool_completed AND
// e.tool.parent_id is null").
func IsInjectionSafeBoundary(e model.StreamEvent) bool {
	return e.Type == EventToolCompleted && e.ParentID == ""
}

// SessionUpdateFunc is invoked when the provider issues a fresh session id
// mid-stream (spec §4.4 step 2: "the provider may issue a fresh session id
// mid-stream").
type SessionUpdateFunc func(newSessionID string)

// StreamRequest carries everything a Stream needs to drive one turn.
type StreamRequest struct {
	ChatID         string
	SessionID      string // may be empty for a brand-new chat
	ModelID        string
	Content        string
	Attachments    []model.Attachment
	SystemPrompt   string
	History        []model.StreamEvent
	OnSessionUpdate SessionUpdateFunc
}

// Stream is the live, cancellable handle to one in-flight provider turn.
// Events() is the asynchronous event iterator the Stream Orchestrator
// drains (spec §4.4); it terminates (closes its channel) exactly once,
// either after a result event or after an error.
type Stream interface {
	// Events returns a channel of StreamEvents in emission order, and a
	// channel that receives at most one error once Events() closes.
	Events() (<-chan model.StreamEvent, <-chan error)
	// CancelActiveStream asks the provider to stop producing further
	// events. Idempotent; safe to call more than once (spec §4.5).
	CancelActiveStream(ctx context.Context) error
	// GetTotalCostUSD returns the accumulated cost once the stream has
	// produced a result event; 0 before then.
	GetTotalCostUSD() float64
}

// Client builds provider Streams. One Client is configured per
// UserSettings.custom_providers entry resolved by API Key Validation (spec
// §4.9).
type Client interface {
	StartStream(ctx context.Context, req StreamRequest) (Stream, error)
	Close() error
}
