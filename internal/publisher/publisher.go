// Package publisher implements the Stream Publisher (spec §4.8): types
// events, serializes them, appends to the per-chat log, and emits terminal
// markers. Log-append failures are logged and swallowed — they never abort
// a stream (spec §4.8, §7); the in-memory event buffer kept by the
// orchestrator remains the source of truth for persistence.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"

	"chatstreamd/internal/bus"
	"chatstreamd/internal/model"
	"chatstreamd/internal/streamkv"
)

// Kind enumerates stream_log.kind (spec §6).
type Kind string

const (
	KindContent       Kind = "content"
	KindError         Kind = "error"
	KindComplete      Kind = "complete"
	KindQueueInjected Kind = "queue_injected"
)

// QueueInjectedPayload is the payload shape for a queue_injected entry (spec
// §4.6 step 4, §6).
type QueueInjectedPayload struct {
	QueuedMessageID   string             `json:"queued_message_id"`
	UserMessageID     string             `json:"user_message_id"`
	AssistantMessageID string           `json:"assistant_message_id"`
	Content           string             `json:"content"`
	ModelID           string             `json:"model_id"`
	Attachments       []model.Attachment `json:"attachments,omitempty"`
}

// Publisher appends entries to a chat's shared log and fans them out
// in-process so live subscribers don't have to poll the table.
type Publisher struct {
	kv     *streamkv.KV
	bus    *bus.Bus
	logger *slog.Logger
}

// New builds a Publisher over kv, optionally fanning out on eventBus (nil is
// fine: publishing then becomes log-only).
func New(kv *streamkv.KV, eventBus *bus.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{kv: kv, bus: eventBus, logger: logger}
}

// PublishEvent appends a StreamEvent under kind=content (spec §4.4 step 4,
// §6: "content carries {event}").
func (p *Publisher) PublishEvent(ctx context.Context, chatID string, event model.StreamEvent) {
	payload, err := json.Marshal(map[string]any{"event": event})
	if err != nil {
		p.logger.Error("publisher: marshal event", "chat_id", chatID, "error", err)
		return
	}
	p.append(ctx, chatID, KindContent, string(payload))
}

// PublishQueueInjected appends a queue_injected marker (spec §4.6 step 4).
func (p *Publisher) PublishQueueInjected(ctx context.Context, chatID string, payload QueueInjectedPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("publisher: marshal queue_injected", "chat_id", chatID, "error", err)
		return
	}
	p.append(ctx, chatID, KindQueueInjected, string(raw))
}

// PublishComplete appends the terminal complete marker. No content entry may
// follow it for this chat's stream (spec §5).
func (p *Publisher) PublishComplete(ctx context.Context, chatID string) {
	p.append(ctx, chatID, KindComplete, "")
}

// PublishError appends the terminal error marker carrying the failure
// message (spec §6: "error carries {error}").
func (p *Publisher) PublishError(ctx context.Context, chatID, errMsg string) {
	raw, err := json.Marshal(map[string]string{"error": errMsg})
	if err != nil {
		p.logger.Error("publisher: marshal error marker", "chat_id", chatID, "error", err)
		return
	}
	p.append(ctx, chatID, KindError, string(raw))
}

func (p *Publisher) append(ctx context.Context, chatID string, kind Kind, payload string) {
	if err := p.kv.AppendLog(ctx, chatID, string(kind), payload); err != nil {
		p.logger.Warn("publisher: append log failed (swallowed)", "chat_id", chatID, "kind", kind, "error", err)
	}
	if p.bus != nil {
		p.bus.Publish(bus.TopicStreamAppended, bus.StreamAppendedEvent{ChatID: chatID, Kind: string(kind), Payload: payload})
	}
}
