package streamkv

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SetFlag sets key = value with an optional TTL (ttl <= 0 means no
// expiry), used for chat:{id}:task and chat:{id}:revoked (spec §6).
func (kv *KV) SetFlag(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().UTC().Add(ttl)
	}
	return retryOnBusy(ctx, func() error {
		_, err := kv.db.ExecContext(ctx, `
			INSERT INTO kv_flags (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			key, value, expiresAt)
		return err
	})
}

// GetFlag returns (value, true, nil) if key exists and has not expired.
func (kv *KV) GetFlag(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt sql.NullTime
	err := kv.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv_flags WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expiresAt.Valid && time.Now().UTC().After(expiresAt.Time) {
		_ = kv.DeleteFlag(ctx, key)
		return "", false, nil
	}
	return value, true, nil
}

// DeleteFlag removes key unconditionally.
func (kv *KV) DeleteFlag(ctx context.Context, key string) error {
	return retryOnBusy(ctx, func() error {
		_, err := kv.db.ExecContext(ctx, `DELETE FROM kv_flags WHERE key = ?`, key)
		return err
	})
}

// TaskKey, RevokedKey, and ContextUsageKey build the per-chat control keys
// named in spec §6.
func TaskKey(chatID string) string         { return fmt.Sprintf("chat:%s:task", chatID) }
func RevokedKey(chatID string) string      { return fmt.Sprintf("chat:%s:revoked", chatID) }
func ContextUsageKey(chatID string) string { return fmt.Sprintf("chat:%s:context_usage", chatID) }
func QueueKey(chatID string) string        { return fmt.Sprintf("chat:%s:queue", chatID) }
func StreamKey(chatID string) string       { return fmt.Sprintf("chat:%s:stream", chatID) }

// TaskTTL and QueueTTL expose the configured TTLs (spec §5) for callers that
// need them (e.g. the orchestrator setting chat:{id}:task).
func (kv *KV) TaskTTL() time.Duration  { return kv.taskTTL }
func (kv *KV) QueueTTL() time.Duration { return kv.queueTTL }
