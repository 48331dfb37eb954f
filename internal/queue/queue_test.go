package queue

import (
	"context"
	"path/filepath"
	"testing"

	"chatstreamd/internal/model"
	"chatstreamd/internal/streamkv"
)

func newTestService(t *testing.T, cfg streamkv.Config) *Service {
	t.Helper()
	kv, err := streamkv.Open(filepath.Join(t.TempDir(), "kv.db"), cfg)
	if err != nil {
		t.Fatalf("streamkv.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv)
}

func TestAddMessage_GeneratesIDAndPreservesFIFO(t *testing.T) {
	svc := newTestService(t, streamkv.Config{})
	ctx := context.Background()

	pos1, id1, err := svc.AddMessage(ctx, "chat-1", model.QueuedMessage{Content: "first"})
	if err != nil || pos1 != 0 || id1 == "" {
		t.Fatalf("AddMessage 1: pos=%d id=%q err=%v", pos1, id1, err)
	}
	_, id2, err := svc.AddMessage(ctx, "chat-1", model.QueuedMessage{Content: "second"})
	if err != nil {
		t.Fatalf("AddMessage 2: %v", err)
	}

	msgs, err := svc.GetQueue(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != id1 || msgs[1].ID != id2 {
		t.Fatalf("GetQueue order = %+v, want [%s, %s]", msgs, id1, id2)
	}
}

func TestAddMessage_QueueFullReturnsErrQueueFull(t *testing.T) {
	svc := newTestService(t, streamkv.Config{MaxQueueSize: 1})
	ctx := context.Background()

	if _, _, err := svc.AddMessage(ctx, "chat-1", model.QueuedMessage{Content: "a"}); err != nil {
		t.Fatalf("AddMessage 1: %v", err)
	}
	if _, _, err := svc.AddMessage(ctx, "chat-1", model.QueuedMessage{Content: "b"}); err != ErrQueueFull {
		t.Fatalf("AddMessage at capacity: err = %v, want ErrQueueFull", err)
	}
}

func TestAppendToMessage_ConcatenatesAndMergesAttachments(t *testing.T) {
	svc := newTestService(t, streamkv.Config{})
	ctx := context.Background()

	_, id, err := svc.AddMessage(ctx, "chat-1", model.QueuedMessage{Content: "line1"})
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := svc.AppendToMessage(ctx, "chat-1", id, "line2", []model.Attachment{{ID: "a1"}}); err != nil {
		t.Fatalf("AppendToMessage: %v", err)
	}

	msgs, err := svc.GetQueue(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if msgs[0].Content != "line1\nline2" {
		t.Fatalf("Content = %q, want line1\\nline2", msgs[0].Content)
	}
	if len(msgs[0].Attachments) != 1 {
		t.Fatalf("Attachments = %+v, want 1 entry", msgs[0].Attachments)
	}
}

func TestAppendToMessage_UnknownIDIsNotFound(t *testing.T) {
	svc := newTestService(t, streamkv.Config{})
	if err := svc.AppendToMessage(context.Background(), "chat-1", "missing", "x", nil); err != ErrNotFound {
		t.Fatalf("AppendToMessage unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestRemoveMessage(t *testing.T) {
	svc := newTestService(t, streamkv.Config{})
	ctx := context.Background()

	_, id, _ := svc.AddMessage(ctx, "chat-1", model.QueuedMessage{Content: "x"})
	if err := svc.RemoveMessage(ctx, "chat-1", id); err != nil {
		t.Fatalf("RemoveMessage: %v", err)
	}
	msgs, err := svc.GetQueue(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetQueue: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("GetQueue after remove = %+v, want empty", msgs)
	}
}

func TestPopNextMessage_EmptyQueueReturnsNilNil(t *testing.T) {
	svc := newTestService(t, streamkv.Config{})
	msg, err := svc.PopNextMessage(context.Background(), "chat-empty")
	if err != nil {
		t.Fatalf("PopNextMessage: %v", err)
	}
	if msg != nil {
		t.Fatalf("PopNextMessage on empty queue = %+v, want nil", msg)
	}
}

func TestHasMessages(t *testing.T) {
	svc := newTestService(t, streamkv.Config{})
	ctx := context.Background()

	has, err := svc.HasMessages(ctx, "chat-1")
	if err != nil || has {
		t.Fatalf("HasMessages before push: has=%v err=%v, want false,nil", has, err)
	}
	if _, _, err := svc.AddMessage(ctx, "chat-1", model.QueuedMessage{Content: "x"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	has, err = svc.HasMessages(ctx, "chat-1")
	if err != nil || !has {
		t.Fatalf("HasMessages after push: has=%v err=%v, want true,nil", has, err)
	}
}
