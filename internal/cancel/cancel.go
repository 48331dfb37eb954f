// Package cancel implements the Cancellation Watcher (spec §4.5): a
// poll-based goroutine that translates the external chat:{id}:revoked flag
// into a main-loop interrupt.
package cancel

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"chatstreamd/internal/bus"
	"chatstreamd/internal/streamkv"
)

const revokedValue = "1"

// Watcher polls streamkv for revocation flags on behalf of active streams.
type Watcher struct {
	kv           *streamkv.KV
	bus          *bus.Bus
	pollInterval time.Duration
	logger       *slog.Logger
}

// New builds a Watcher polling every pollInterval (spec §5:
// REVOCATION_POLL_INTERVAL_SECONDS bounds detection latency).
func New(kv *streamkv.KV, eventBus *bus.Bus, pollInterval time.Duration, logger *slog.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{kv: kv, bus: eventBus, pollInterval: pollInterval, logger: logger}
}

// Handle is returned by Watch and observed by the orchestrator's main loop.
type Handle struct {
	chatID       string
	wasCancelled atomic.Bool
	done         chan struct{}
	stop         context.CancelFunc
}

// WasCancelled reports whether this handle's watcher itself detected the
// revocation flag — the main loop uses this to distinguish cooperative
// cancellation from an ordinary context cancellation/failure (spec §4.5:
// "an interrupt without the flag set is re-raised as an ordinary failure").
func (h *Handle) WasCancelled() bool { return h.wasCancelled.Load() }

// Done is closed exactly once, the moment the watcher observes the
// revocation flag. The main loop selects on it alongside provider events.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop ends the watcher's poll loop. Safe to call after Done has already
// fired; the watcher's own goroutine exit is cooperative and swallows its
// own cancellation (spec §4.5).
func (h *Handle) Stop() { h.stop() }

// Watch starts polling chat:{chatID}:revoked in a background goroutine and
// returns a Handle the orchestrator observes. parent should be the stream's
// own context, not a context already tied to the watcher's lifetime.
func (w *Watcher) Watch(parent context.Context, chatID string, onCancelled func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{chatID: chatID, done: make(chan struct{}), stop: cancel}

	go func() {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Cooperative shutdown: the orchestrator stopped us, not a
				// revocation. Swallow silently (spec §4.5).
				return
			case <-ticker.C:
				revoked, err := w.checkRevoked(ctx, chatID)
				if err != nil {
					w.logger.Warn("cancel: poll revoked flag failed", "chat_id", chatID, "error", err)
					continue
				}
				if !revoked {
					continue
				}
				h.wasCancelled.Store(true)
				if w.bus != nil {
					w.bus.Publish(bus.TopicCancelObserved, bus.CancelEvent{ChatID: chatID})
				}
				if onCancelled != nil {
					onCancelled(ctx)
				}
				close(h.done)
				return
			}
		}
	}()

	return h
}

func (w *Watcher) checkRevoked(ctx context.Context, chatID string) (bool, error) {
	value, ok, err := w.kv.GetFlag(ctx, streamkv.RevokedKey(chatID))
	if err != nil {
		return false, err
	}
	return ok && value == revokedValue, nil
}

// RequestCancellation sets chat:{chatID}:revoked = "1" (spec §5: "external
// agents set chat:{id}:revoked"). Called by whatever surface handles a
// user-initiated stop request; not by the watcher itself.
func RequestCancellation(ctx context.Context, kv *streamkv.KV, eventBus *bus.Bus, chatID string, ttl time.Duration) error {
	if err := kv.SetFlag(ctx, streamkv.RevokedKey(chatID), revokedValue, ttl); err != nil {
		return err
	}
	if eventBus != nil {
		eventBus.Publish(bus.TopicCancelRequested, bus.CancelEvent{ChatID: chatID})
	}
	return nil
}
