package publisher

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"chatstreamd/internal/bus"
	"chatstreamd/internal/model"
	"chatstreamd/internal/streamkv"
)

func newTestPublisher(t *testing.T, eventBus *bus.Bus) (*Publisher, *streamkv.KV) {
	t.Helper()
	kv, err := streamkv.Open(filepath.Join(t.TempDir(), "kv.db"), streamkv.Config{})
	if err != nil {
		t.Fatalf("streamkv.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv, eventBus, nil), kv
}

func TestPublishEvent_AppendsContentEntry(t *testing.T) {
	pub, kv := newTestPublisher(t, nil)
	ctx := context.Background()

	pub.PublishEvent(ctx, "chat-1", model.StreamEvent{Type: "text_delta"})

	entries, err := kv.ReadLog(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != string(KindContent) {
		t.Fatalf("entries = %+v, want 1 content entry", entries)
	}
	var decoded map[string]model.StreamEvent
	if err := json.Unmarshal([]byte(entries[0].Payload), &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["event"].Type != "text_delta" {
		t.Fatalf("decoded event type = %q, want text_delta", decoded["event"].Type)
	}
}

func TestPublishComplete_AppendsEmptyTerminalMarker(t *testing.T) {
	pub, kv := newTestPublisher(t, nil)
	ctx := context.Background()

	pub.PublishComplete(ctx, "chat-1")

	entries, err := kv.ReadLog(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != string(KindComplete) {
		t.Fatalf("entries = %+v, want 1 complete marker", entries)
	}
}

func TestPublishError_CarriesErrorMessage(t *testing.T) {
	pub, kv := newTestPublisher(t, nil)
	ctx := context.Background()

	pub.PublishError(ctx, "chat-1", "boom")

	entries, err := kv.ReadLog(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(entries[0].Payload), &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["error"] != "boom" {
		t.Fatalf("error payload = %q, want boom", decoded["error"])
	}
}

func TestPublishQueueInjected_CarriesPayload(t *testing.T) {
	pub, kv := newTestPublisher(t, nil)
	ctx := context.Background()

	pub.PublishQueueInjected(ctx, "chat-1", QueueInjectedPayload{
		QueuedMessageID:    "qm-1",
		UserMessageID:      "um-1",
		AssistantMessageID: "am-1",
		Content:            "hi",
		ModelID:            "model-1",
	})

	entries, err := kv.ReadLog(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != string(KindQueueInjected) {
		t.Fatalf("entries = %+v, want 1 queue_injected marker", entries)
	}
	var decoded QueueInjectedPayload
	if err := json.Unmarshal([]byte(entries[0].Payload), &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.QueuedMessageID != "qm-1" || decoded.Content != "hi" {
		t.Fatalf("decoded payload = %+v, want qm-1/hi", decoded)
	}
}

func TestPublishEvent_FansOutOnBus(t *testing.T) {
	eventBus := bus.New()
	pub, _ := newTestPublisher(t, eventBus)
	ctx := context.Background()

	sub := eventBus.Subscribe(bus.TopicStreamAppended)

	pub.PublishEvent(ctx, "chat-1", model.StreamEvent{Type: "text_delta"})

	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(bus.StreamAppendedEvent)
		if !ok || payload.ChatID != "chat-1" {
			t.Fatalf("payload = %+v, want StreamAppendedEvent for chat-1", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus fan-out")
	}
}
