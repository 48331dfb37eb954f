package cancel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatstreamd/internal/streamkv"
)

func newTestKV(t *testing.T) *streamkv.KV {
	t.Helper()
	kv, err := streamkv.Open(filepath.Join(t.TempDir(), "kv.db"), streamkv.Config{})
	if err != nil {
		t.Fatalf("streamkv.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestWatcher_DetectsRevocation(t *testing.T) {
	kv := newTestKV(t)
	w := New(kv, nil, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cancelledCalled bool
	h := w.Watch(ctx, "chat-1", func(ctx context.Context) { cancelledCalled = true })

	if err := RequestCancellation(ctx, kv, nil, "chat-1", time.Minute); err != nil {
		t.Fatalf("set revoked flag: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for cancellation to be observed")
	}

	if !h.WasCancelled() {
		t.Fatal("WasCancelled() = false, want true")
	}
	if !cancelledCalled {
		t.Fatal("onCancelled callback was not invoked")
	}
}

func TestWatcher_StopWithoutRevocationSwallowsSilently(t *testing.T) {
	kv := newTestKV(t)
	w := New(kv, nil, 20*time.Millisecond, nil)

	ctx := context.Background()
	h := w.Watch(ctx, "chat-2", nil)
	h.Stop()

	select {
	case <-h.Done():
		t.Fatal("Done() must not fire on cooperative stop")
	case <-time.After(100 * time.Millisecond):
	}
	if h.WasCancelled() {
		t.Fatal("WasCancelled() = true after plain Stop(), want false")
	}
}
