// Package inject implements the Queue Injector (spec §4.6): pops the head
// of a chat's message queue at a safe stream boundary, persists it as a new
// user/assistant Message pair, publishes a queue_injected marker, and
// writes the provider-facing injection frame.
package inject

import (
	"context"
	"fmt"
	"path"
	"strings"

	"chatstreamd/internal/bus"
	"chatstreamd/internal/model"
	"chatstreamd/internal/publisher"
	"chatstreamd/internal/queue"
	"chatstreamd/internal/store"
)

// Frame is the line-delimited injection frame written into the provider
// transport (spec §4.6 step 6).
type Frame struct {
	Type            string      `json:"type"` // always "user"
	Message         FrameMessage `json:"message"`
	ParentToolUseID *string     `json:"parent_tool_use_id"`
	SessionID       string      `json:"session_id"`
}

// FrameMessage is the nested message payload of a Frame.
type FrameMessage struct {
	Role    string `json:"role"` // always "user"
	Content string `json:"content"`
}

// Transport is where the built Frame is written — the provider's live
// input channel for the active stream (spec §4.6 step 6). Kept narrow so
// internal/provider's Stream doesn't need to grow an injection-specific
// method.
type Transport interface {
	WriteFrame(ctx context.Context, frame Frame) error
}

// Injector composes the Queue Service, Durable Store Gateway, and Stream
// Publisher to perform one injection per invitation (spec §4.6).
type Injector struct {
	queue *queue.Service
	store *store.Store
	pub   *publisher.Publisher
	bus   *bus.Bus
}

// New builds an Injector over the given collaborators. eventBus may be nil.
func New(q *queue.Service, st *store.Store, pub *publisher.Publisher, eventBus *bus.Bus) *Injector {
	return &Injector{queue: q, store: st, pub: pub, bus: eventBus}
}

// TryInject implements spec §4.6's five-step protocol. Returns (false, nil)
// if the queue was empty (no injection occurred); the caller only invites
// TryInject at an injection-safe boundary (provider.IsInjectionSafeBoundary).
func (inj *Injector) TryInject(ctx context.Context, chatID, modelID string, transport Transport) (bool, error) {
	msg, err := inj.queue.PopNextMessage(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("inject: pop queue: %w", err)
	}
	if msg == nil {
		return false, nil
	}

	userMessageID, err := inj.store.CreateUserMessage(ctx, chatID, modelID, msg.Content, msg.Attachments)
	if err != nil {
		return false, fmt.Errorf("inject: create user message: %w", err)
	}
	assistantMessageID, err := inj.store.CreateAssistantMessage(ctx, chatID, modelID, "")
	if err != nil {
		return false, fmt.Errorf("inject: create assistant message: %w", err)
	}

	inj.pub.PublishQueueInjected(ctx, chatID, publisher.QueueInjectedPayload{
		QueuedMessageID:    msg.ID,
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		Content:            msg.Content,
		ModelID:            modelID,
		Attachments:        msg.Attachments,
	})
	if inj.bus != nil {
		inj.bus.Publish(bus.TopicQueueInjected, bus.QueueInjectedEvent{
			ChatID:             chatID,
			QueuedMessageID:    msg.ID,
			UserMessageID:      userMessageID,
			AssistantMessageID: assistantMessageID,
		})
	}

	sessionID, err := inj.store.GetChatSessionID(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("inject: get session id: %w", err)
	}

	frame := Frame{
		Type:      "user",
		Message:   FrameMessage{Role: "user", Content: buildPrompt(msg.Content, msg.Attachments)},
		SessionID: sessionID,
	}
	if err := transport.WriteFrame(ctx, frame); err != nil {
		return false, fmt.Errorf("inject: write frame: %w", err)
	}

	return true, nil
}

// buildPrompt wraps content with <user_attachments> when attachments are
// present, else leaves it as a bare <user_prompt> (spec §4.6 step 6). The
// attachment listing names each file under /home/user/ the way the sandbox
// workspace lays them out, not a raw JSON dump of the attachment rows.
func buildPrompt(content string, attachments []model.Attachment) string {
	if len(attachments) == 0 {
		return fmt.Sprintf("<user_prompt>%s</user_prompt>", content)
	}
	lines := make([]string, len(attachments))
	for i, att := range attachments {
		name := att.Filename
		if name == "" {
			name = path.Base(att.FileURL)
		}
		lines[i] = "- /home/user/" + name
	}
	return fmt.Sprintf(
		"<user_attachments>\nUser uploaded the following files\n%s\n</user_attachments>\n\n<user_prompt>%s</user_prompt>",
		strings.Join(lines, "\n"), content,
	)
}
