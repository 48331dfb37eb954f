package streamkv

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// QueueItem is one row of a per-chat queue list (spec §4.7, §6).
type QueueItem struct {
	Seq     int64
	ChatID  string
	ItemID  string
	Payload string
}

// ErrQueueFull is returned by RPush when the queue is already at capacity
// (spec §4.7: "fail with queue full when length >= MAX_QUEUE_SIZE").
var ErrQueueFull = fmt.Errorf("streamkv: queue full")

// MaxQueueSize exposes the configured MAX_QUEUE_SIZE (spec §6).
func (kv *KV) MaxQueueSize() int { return kv.maxQueue }

// Len returns the current queue length for chatID.
func (kv *KV) Len(ctx context.Context, chatID string) (int, error) {
	var n int
	err := kv.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

// RPush appends itemID/payload to chatID's queue, refreshes the queue's TTL,
// and returns the pre-push length as position (spec §4.7). It fails with
// ErrQueueFull at capacity without mutating the queue.
func (kv *KV) RPush(ctx context.Context, chatID, itemID, payload string) (int, error) {
	var position int
	err := retryOnBusy(ctx, func() error {
		tx, err := kv.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE chat_id = ?`, chatID).Scan(&position); err != nil {
			return err
		}
		if position >= kv.maxQueue {
			return ErrQueueFull
		}
		expiresAt := time.Now().UTC().Add(kv.queueTTL)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queue_items (chat_id, item_id, payload, expires_at) VALUES (?, ?, ?, ?)`,
			chatID, itemID, payload, expiresAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE queue_items SET expires_at = ? WHERE chat_id = ?`, expiresAt, chatID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return position, nil
}

// LRange returns chatID's queue in FIFO order, with each item's Seq
// reconstructible into a 0-based position by the caller (spec §4.7: "All
// reads reconstruct position from list index").
func (kv *KV) LRange(ctx context.Context, chatID string) ([]QueueItem, error) {
	rows, err := kv.db.QueryContext(ctx, `
		SELECT seq, chat_id, item_id, payload FROM queue_items WHERE chat_id = ? ORDER BY seq ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var it QueueItem
		if err := rows.Scan(&it.Seq, &it.ChatID, &it.ItemID, &it.Payload); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// LPop removes and returns the head of chatID's queue (LPOP, spec §4.7's
// pop_next_message), or (nil, sql.ErrNoRows) if empty.
func (kv *KV) LPop(ctx context.Context, chatID string) (*QueueItem, error) {
	var it QueueItem
	err := retryOnBusy(ctx, func() error {
		tx, err := kv.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT seq, chat_id, item_id, payload FROM queue_items WHERE chat_id = ? ORDER BY seq ASC LIMIT 1`, chatID)
		if scanErr := row.Scan(&it.Seq, &it.ChatID, &it.ItemID, &it.Payload); scanErr != nil {
			return scanErr
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE seq = ?`, it.Seq); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// LRem removes the item identified by itemID from chatID's queue (spec
// §4.7's remove_message).
func (kv *KV) LRem(ctx context.Context, chatID, itemID string) error {
	return retryOnBusy(ctx, func() error {
		_, err := kv.db.ExecContext(ctx, `DELETE FROM queue_items WHERE chat_id = ? AND item_id = ?`, chatID, itemID)
		return err
	})
}

// LSet overwrites the payload of itemID in chatID's queue in place (spec
// §4.7's update_message/append_to_message), refreshing the TTL.
func (kv *KV) LSet(ctx context.Context, chatID, itemID, payload string) error {
	return retryOnBusy(ctx, func() error {
		tx, err := kv.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `UPDATE queue_items SET payload = ? WHERE chat_id = ? AND item_id = ?`, payload, chatID, itemID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		expiresAt := time.Now().UTC().Add(kv.queueTTL)
		if _, err := tx.ExecContext(ctx, `UPDATE queue_items SET expires_at = ? WHERE chat_id = ?`, expiresAt, chatID); err != nil {
			return err
		}
		return tx.Commit()
	})
}
