package inject

import (
	"context"
	"path/filepath"
	"testing"

	"chatstreamd/internal/model"
	"chatstreamd/internal/publisher"
	"chatstreamd/internal/queue"
	"chatstreamd/internal/store"
	"chatstreamd/internal/streamkv"
)

type fakeTransport struct {
	frames []Frame
}

func (f *fakeTransport) WriteFrame(ctx context.Context, frame Frame) error {
	f.frames = append(f.frames, frame)
	return nil
}

func newTestInjector(t *testing.T) (*Injector, *store.Store, *queue.Service) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	kv, err := streamkv.Open(filepath.Join(t.TempDir(), "kv.db"), streamkv.Config{})
	if err != nil {
		t.Fatalf("streamkv.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	q := queue.New(kv)
	pub := publisher.New(kv, nil, nil)
	return New(q, st, pub, nil), st, q
}

func TestInjector_TryInject_EmptyQueue(t *testing.T) {
	inj, _, _ := newTestInjector(t)
	transport := &fakeTransport{}

	injected, err := inj.TryInject(context.Background(), "chat-1", "model-1", transport)
	if err != nil {
		t.Fatalf("TryInject: %v", err)
	}
	if injected {
		t.Fatal("expected no injection on empty queue")
	}
	if len(transport.frames) != 0 {
		t.Fatalf("expected no frames written, got %d", len(transport.frames))
	}
}

func TestInjector_TryInject_PopsAndWritesFrame(t *testing.T) {
	inj, st, q := newTestInjector(t)
	ctx := context.Background()

	if err := st.CreateUser(ctx, &model.User{ID: "user-1", Email: "a@b.com", Username: "a"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	chat := &model.Chat{ID: "chat-1", UserID: "user-1", Title: "t", SessionID: "sess-abc"}
	if err := st.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if _, _, err := q.AddMessage(ctx, "chat-1", model.QueuedMessage{Content: "hello there"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	transport := &fakeTransport{}
	injected, err := inj.TryInject(ctx, "chat-1", "model-1", transport)
	if err != nil {
		t.Fatalf("TryInject: %v", err)
	}
	if !injected {
		t.Fatal("expected injection to occur")
	}
	if len(transport.frames) != 1 {
		t.Fatalf("expected 1 frame written, got %d", len(transport.frames))
	}
	frame := transport.frames[0]
	if frame.SessionID != "sess-abc" {
		t.Fatalf("frame session id = %q, want sess-abc", frame.SessionID)
	}
	if frame.Message.Content != "<user_prompt>hello there</user_prompt>" {
		t.Fatalf("unexpected prompt wrapping: %q", frame.Message.Content)
	}

	has, err := q.HasMessages(ctx, "chat-1")
	if err != nil {
		t.Fatalf("HasMessages: %v", err)
	}
	if has {
		t.Fatal("expected queue to be empty after injection")
	}
}

func TestInjector_TryInject_ListsAttachmentsAsFiles(t *testing.T) {
	inj, st, q := newTestInjector(t)
	ctx := context.Background()

	if err := st.CreateUser(ctx, &model.User{ID: "user-1", Email: "a@b.com", Username: "a"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	chat := &model.Chat{ID: "chat-1", UserID: "user-1", Title: "t", SessionID: "sess-abc"}
	if err := st.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	if _, _, err := q.AddMessage(ctx, "chat-1", model.QueuedMessage{
		Content: "look at this",
		Attachments: []model.Attachment{
			{Filename: "notes.txt", FileURL: "s3://bucket/path/notes.txt"},
			{FileURL: "s3://bucket/path/diagram.png"},
		},
	}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	transport := &fakeTransport{}
	if _, err := inj.TryInject(ctx, "chat-1", "model-1", transport); err != nil {
		t.Fatalf("TryInject: %v", err)
	}
	if len(transport.frames) != 1 {
		t.Fatalf("expected 1 frame written, got %d", len(transport.frames))
	}
	want := "<user_attachments>\nUser uploaded the following files\n" +
		"- /home/user/notes.txt\n- /home/user/diagram.png\n" +
		"</user_attachments>\n\n<user_prompt>look at this</user_prompt>"
	if got := transport.frames[0].Message.Content; got != want {
		t.Fatalf("prompt wrapping = %q, want %q", got, want)
	}
}
