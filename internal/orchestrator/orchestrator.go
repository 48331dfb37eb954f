// Package orchestrator implements the Stream Orchestrator (spec §4.4): the
// coordination core that drives the AI provider's event iterator, fans out
// each event, reacts to cooperative cancellation, and persists terminal
// state exactly once.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatstreamd/internal/cancel"
	"chatstreamd/internal/errs"
	"chatstreamd/internal/inject"
	"chatstreamd/internal/model"
	"chatstreamd/internal/provider"
	"chatstreamd/internal/publisher"
	"chatstreamd/internal/sandbox"
	"chatstreamd/internal/shared"
	"chatstreamd/internal/store"
	"chatstreamd/internal/streamkv"
)

// Request carries one turn's inputs (spec §4.4: "Inputs: chat, prompt,
// system_prompt, ..."). AssistantMessageID must already exist
// (in_progress); the Scheduler Runner and the chat-turn entrypoint both
// create it before calling Run.
type Request struct {
	ChatID             string
	AssistantMessageID string
	Prompt             string
	SystemPrompt       string
	ModelID            string
	SessionID          string
	Attachments        []model.Attachment
	History            []model.StreamEvent

	Client    provider.Client
	Injector  *inject.Injector
	Transport inject.Transport // nil disables injection for this turn
	Sandbox   sandbox.Provider // nil disables checkpointing for this turn
	Instance  sandbox.Instance
}

// Orchestrator composes the Durable Store Gateway, Shared Log & KV, Stream
// Publisher, and Cancellation Watcher to run one stream turn at a time per
// chat (concurrently across chats).
type Orchestrator struct {
	store         *store.Store
	kv            *streamkv.KV
	pub           *publisher.Publisher
	cancelWatcher *cancel.Watcher
	logger        *slog.Logger
	pollInterval  time.Duration
}

// New builds an Orchestrator. revocationPollInterval corresponds to spec
// §5's REVOCATION_POLL_INTERVAL_SECONDS.
func New(st *store.Store, kv *streamkv.KV, pub *publisher.Publisher, watcher *cancel.Watcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: st, kv: kv, pub: pub, cancelWatcher: watcher, logger: logger}
}

// Run executes the full spec §4.4 protocol for one turn and returns the
// terminal stream status reached.
func (o *Orchestrator) Run(ctx context.Context, req Request) (model.StreamStatus, error) {
	ctx = shared.WithChatID(ctx, req.ChatID)
	ctx = shared.WithRunID(ctx, shared.NewRunID())

	taskHandle := uuid.NewString()
	if err := o.kv.SetFlag(ctx, streamkv.TaskKey(req.ChatID), taskHandle, o.kv.TaskTTL()); err != nil {
		o.logger.Warn("orchestrator: set task liveness flag failed", "trace_id", shared.TraceID(ctx), "chat_id", shared.ChatID(ctx), "run_id", shared.RunID(ctx), "error", err)
	}
	_ = o.kv.DeleteFlag(ctx, streamkv.RevokedKey(req.ChatID))

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	onSessionUpdate := func(newSessionID string) {
		if err := o.store.UpdateChatSessionID(ctx, req.ChatID, newSessionID); err != nil {
			o.logger.Warn("orchestrator: update chat session id failed", "trace_id", shared.TraceID(ctx), "chat_id", shared.ChatID(ctx), "run_id", shared.RunID(ctx), "error", err)
		}
		if err := o.store.UpdateAssistantMessageSessionID(ctx, req.AssistantMessageID, newSessionID); err != nil {
			o.logger.Warn("orchestrator: update assistant message session id failed", "trace_id", shared.TraceID(ctx), "chat_id", shared.ChatID(ctx), "run_id", shared.RunID(ctx), "error", err)
		}
	}

	stream, err := req.Client.StartStream(streamCtx, provider.StreamRequest{
		ChatID:          req.ChatID,
		SessionID:       req.SessionID,
		ModelID:         req.ModelID,
		Content:         req.Prompt,
		Attachments:     req.Attachments,
		SystemPrompt:    req.SystemPrompt,
		History:         req.History,
		OnSessionUpdate: onSessionUpdate,
	})
	if err != nil {
		return o.finalize(ctx, req, nil, model.StreamStatusFailed, fmt.Errorf("orchestrator: start stream: %w", err), 0)
	}

	handle := o.cancelWatcher.Watch(streamCtx, req.ChatID, func(wctx context.Context) {
		_ = stream.CancelActiveStream(wctx)
		cancelStream()
	})
	defer handle.Stop()

	events, status, runErr := o.drainEvents(streamCtx, req, stream, handle)

	return o.finalize(ctx, req, events, status, runErr, stream.GetTotalCostUSD())
}

// drainEvents runs the main loop (spec §4.4 step 4): it appends every event
// to an in-memory buffer, publishes it, and invites the Queue Injector at
// safe boundaries.
func (o *Orchestrator) drainEvents(ctx context.Context, req Request, stream provider.Stream, handle *cancel.Handle) ([]model.StreamEvent, model.StreamStatus, error) {
	eventsCh, errCh := stream.Events()
	var events []model.StreamEvent

	for {
		select {
		case <-handle.Done():
			if handle.WasCancelled() {
				return events, model.StreamStatusInterrupt, nil
			}
			// An interrupt without the revocation flag set is an ordinary
			// failure, not a cooperative cancel (spec §4.5).
			return events, model.StreamStatusFailed, errs.NewClaudeAgentError("stream interrupted without cancellation flag", ctx.Err())

		case err, ok := <-errCh:
			if !ok {
				continue
			}
			return events, model.StreamStatusFailed, errs.NewClaudeAgentError("provider stream error", err)

		case event, ok := <-eventsCh:
			if !ok {
				if len(events) == 0 {
					// spec §4.4 invariant: "a completed-without-events
					// stream is an error, not a success."
					return events, model.StreamStatusFailed, errs.NewClaudeAgentError("stream completed with no events", nil)
				}
				return events, model.StreamStatusCompleted, nil
			}

			eventCopy := event
			if event.Extra != nil {
				eventCopy.Extra = make(map[string]any, len(event.Extra))
				for k, v := range event.Extra {
					eventCopy.Extra[k] = v
				}
			}
			events = append(events, eventCopy)

			o.pub.PublishEvent(ctx, req.ChatID, eventCopy)

			if req.Injector != nil && req.Transport != nil && provider.IsInjectionSafeBoundary(eventCopy) {
				if _, err := req.Injector.TryInject(ctx, req.ChatID, req.ModelID, req.Transport); err != nil {
					o.logger.Warn("orchestrator: queue injection failed", "trace_id", shared.TraceID(ctx), "chat_id", shared.ChatID(ctx), "run_id", shared.RunID(ctx), "error", err)
				}
			}
		}
	}
}

// finalize implements spec §4.4 step 6: it always runs, persists the
// assistant Message's terminal state exactly once, publishes the terminal
// marker, requests a checkpoint on success, and clears the control keys.
func (o *Orchestrator) finalize(ctx context.Context, req Request, events []model.StreamEvent, status model.StreamStatus, runErr error, costUSD float64) (model.StreamStatus, error) {
	content, marshalErr := json.Marshal(events)
	if marshalErr != nil {
		o.logger.Error("orchestrator: marshal events failed", "trace_id", shared.TraceID(ctx), "chat_id", shared.ChatID(ctx), "run_id", shared.RunID(ctx), "error", marshalErr)
		content = []byte("[]")
	}

	totalCost := &costUSD
	var checkpointID string

	if status == model.StreamStatusCompleted && req.Sandbox != nil {
		id, err := req.Sandbox.Checkpoint(ctx, req.Instance)
		if err != nil {
			// Checkpoint failures are warnings, not failures (spec §4.4 step 6).
			o.logger.Warn("orchestrator: sandbox checkpoint failed", "trace_id", shared.TraceID(ctx), "chat_id", shared.ChatID(ctx), "run_id", shared.RunID(ctx), "error", err)
		} else {
			checkpointID = id
		}
	}

	if err := o.store.FinalizeAssistantMessage(ctx, req.AssistantMessageID, string(content), status, totalCost, checkpointID); err != nil {
		o.logger.Error("orchestrator: finalize assistant message failed", "trace_id", shared.TraceID(ctx), "chat_id", shared.ChatID(ctx), "run_id", shared.RunID(ctx), "message_id", req.AssistantMessageID, "error", err)
	}

	switch status {
	case model.StreamStatusFailed:
		msg := "stream failed"
		if runErr != nil {
			msg = runErr.Error()
		}
		o.pub.PublishError(ctx, req.ChatID, msg)
	default:
		o.pub.PublishComplete(ctx, req.ChatID)
	}

	_ = o.kv.DeleteFlag(ctx, streamkv.TaskKey(req.ChatID))
	_ = o.kv.DeleteFlag(ctx, streamkv.RevokedKey(req.ChatID))

	return status, runErr
}
