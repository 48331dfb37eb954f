package streamkv

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestKV(t *testing.T, cfg Config) *KV {
	t.Helper()
	kv, err := Open(filepath.Join(t.TempDir(), "kv.db"), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestAppendLog_TrimsToMaxLen(t *testing.T) {
	kv := newTestKV(t, Config{StreamMaxLen: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := kv.AppendLog(ctx, "chat-1", "content", "payload"); err != nil {
			t.Fatalf("AppendLog %d: %v", i, err)
		}
	}

	entries, err := kv.ReadLog(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3 after trim", len(entries))
	}
	if entries[0].Seq >= entries[2].Seq {
		t.Fatal("ReadLog not ordered by seq ascending")
	}
}

func TestReadLog_AfterSeqFiltersOlderEntries(t *testing.T) {
	kv := newTestKV(t, Config{})
	ctx := context.Background()

	_ = kv.AppendLog(ctx, "chat-1", "content", "a")
	_ = kv.AppendLog(ctx, "chat-1", "content", "b")
	all, _ := kv.ReadLog(ctx, "chat-1", 0)
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	rest, err := kv.ReadLog(ctx, "chat-1", all[0].Seq)
	if err != nil {
		t.Fatalf("ReadLog afterSeq: %v", err)
	}
	if len(rest) != 1 || rest[0].Payload != "b" {
		t.Fatalf("ReadLog afterSeq = %+v, want only entry b", rest)
	}
}

func TestFlag_SetGetDeleteAndExpiry(t *testing.T) {
	kv := newTestKV(t, Config{})
	ctx := context.Background()

	if err := kv.SetFlag(ctx, "k", "v", 0); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	v, ok, err := kv.GetFlag(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("GetFlag = %q,%v,%v want v,true,nil", v, ok, err)
	}

	if err := kv.SetFlag(ctx, "expiring", "soon", 10*time.Millisecond); err != nil {
		t.Fatalf("SetFlag with ttl: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	_, ok, err = kv.GetFlag(ctx, "expiring")
	if err != nil {
		t.Fatalf("GetFlag expired: %v", err)
	}
	if ok {
		t.Fatal("GetFlag returned ok=true for an expired flag")
	}

	if err := kv.DeleteFlag(ctx, "k"); err != nil {
		t.Fatalf("DeleteFlag: %v", err)
	}
	if _, ok, _ := kv.GetFlag(ctx, "k"); ok {
		t.Fatal("GetFlag found a deleted flag")
	}
}

func TestQueue_RPushLPopFIFOAndCapacity(t *testing.T) {
	kv := newTestKV(t, Config{MaxQueueSize: 2})
	ctx := context.Background()

	pos1, err := kv.RPush(ctx, "chat-1", "item-1", "p1")
	if err != nil || pos1 != 0 {
		t.Fatalf("RPush 1: pos=%d err=%v, want 0,nil", pos1, err)
	}
	pos2, err := kv.RPush(ctx, "chat-1", "item-2", "p2")
	if err != nil || pos2 != 1 {
		t.Fatalf("RPush 2: pos=%d err=%v, want 1,nil", pos2, err)
	}
	if _, err := kv.RPush(ctx, "chat-1", "item-3", "p3"); err != ErrQueueFull {
		t.Fatalf("RPush at capacity: err = %v, want ErrQueueFull", err)
	}

	items, err := kv.LRange(ctx, "chat-1")
	if err != nil || len(items) != 2 {
		t.Fatalf("LRange = %+v, err=%v, want 2 items", items, err)
	}

	head, err := kv.LPop(ctx, "chat-1")
	if err != nil || head.ItemID != "item-1" {
		t.Fatalf("LPop = %+v, err=%v, want item-1", head, err)
	}

	if _, err := kv.RPush(ctx, "chat-1", "item-3", "p3"); err != nil {
		t.Fatalf("RPush after pop should succeed: %v", err)
	}
}

func TestQueue_LRemAndLSet(t *testing.T) {
	kv := newTestKV(t, Config{})
	ctx := context.Background()

	if _, err := kv.RPush(ctx, "chat-1", "item-1", "p1"); err != nil {
		t.Fatalf("RPush: %v", err)
	}
	if err := kv.LSet(ctx, "chat-1", "item-1", "updated"); err != nil {
		t.Fatalf("LSet: %v", err)
	}
	items, _ := kv.LRange(ctx, "chat-1")
	if len(items) != 1 || items[0].Payload != "updated" {
		t.Fatalf("LRange after LSet = %+v, want payload=updated", items)
	}

	if err := kv.LRem(ctx, "chat-1", "item-1"); err != nil {
		t.Fatalf("LRem: %v", err)
	}
	items, _ = kv.LRange(ctx, "chat-1")
	if len(items) != 0 {
		t.Fatalf("LRange after LRem = %+v, want empty", items)
	}
}

func TestQueue_LPopEmptyReturnsNoRows(t *testing.T) {
	kv := newTestKV(t, Config{})
	if _, err := kv.LPop(context.Background(), "chat-empty"); err != sql.ErrNoRows {
		t.Fatalf("LPop on empty queue: err = %v, want sql.ErrNoRows", err)
	}
}
