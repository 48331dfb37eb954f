package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"chatstreamd/internal/cursor"
	"chatstreamd/internal/model"
)

// CountRunningOrSuccessSince implements the dedupe window (spec §4.3 step 2,
// §5): any TaskExecution for taskID with executed_at >= since and status in
// {RUNNING, SUCCESS} blocks a new dispatch.
func (s *Store) CountRunningOrSuccessSince(ctx context.Context, taskID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_executions
		WHERE task_id = ? AND executed_at >= ? AND status IN ('RUNNING','SUCCESS')`,
		taskID, since.UTC()).Scan(&count)
	return count, err
}

// CreateRunningExecution inserts a TaskExecution(status=RUNNING,
// executed_at=startTime) and returns its id (spec §4.3 step 3).
func (s *Store) CreateRunningExecution(ctx context.Context, taskID string, startTime time.Time) (string, error) {
	id := uuid.NewString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_executions (id, task_id, executed_at, status)
			VALUES (?, ?, ?, 'RUNNING')`, id, taskID, startTime.UTC())
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// LinkExecutionChat links chat_id/message_id onto a TaskExecution (spec §4.3
// step 5).
func (s *Store) LinkExecutionChat(ctx context.Context, executionID, chatID, messageID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE task_executions SET chat_id = ?, message_id = ? WHERE id = ?`,
			chatID, messageID, executionID)
		return err
	})
}

// CompleteExecutionSuccess marks a TaskExecution SUCCESS with a duration
// (spec §4.3 step 7).
func (s *Store) CompleteExecutionSuccess(ctx context.Context, executionID string, completedAt time.Time, durationMs int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE task_executions SET status = 'SUCCESS', completed_at = ?, duration_ms = ? WHERE id = ?`,
			completedAt.UTC(), durationMs, executionID)
		return err
	})
}

// CompleteExecutionFailure marks a TaskExecution FAILED with an error
// message (spec §4.3 step 8).
func (s *Store) CompleteExecutionFailure(ctx context.Context, executionID string, completedAt time.Time, errMsg string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE task_executions SET status = 'FAILED', completed_at = ?, error_message = ? WHERE id = ?`,
			completedAt.UTC(), errMsg, executionID)
		return err
	})
}

// CreateFailedExecution records a FAILED TaskExecution directly, used when a
// task or its owner cannot be loaded at all (spec §4.3 step 1) or when
// setup/validation fails before a RUNNING row exists (spec §7).
func (s *Store) CreateFailedExecution(ctx context.Context, taskID string, executedAt time.Time, errMsg string) (string, error) {
	id := uuid.NewString()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_executions (id, task_id, executed_at, completed_at, status, error_message)
			VALUES (?, ?, ?, ?, 'FAILED', ?)`, id, taskID, executedAt.UTC(), executedAt.UTC(), errMsg)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListExecutionHistory is the offset-paginated listing behind
// GetExecutionHistory (spec §4.2), ordered by executed_at descending.
func (s *Store) ListExecutionHistory(ctx context.Context, taskID string, page, perPage int) ([]model.TaskExecution, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_executions WHERE task_id = ?`, taskID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, executed_at, completed_at, status, error_message, chat_id, message_id, duration_ms
		FROM task_executions WHERE task_id = ?
		ORDER BY executed_at DESC LIMIT ? OFFSET ?`, taskID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.TaskExecution
	for rows.Next() {
		var e model.TaskExecution
		var completedAt sql.NullTime
		var durationMs sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ExecutedAt, &completedAt, &e.Status, &e.ErrorMsg, &e.ChatID, &e.MessageID, &durationMs); err != nil {
			return nil, 0, err
		}
		if completedAt.Valid {
			v := completedAt.Time.UTC()
			e.CompletedAt = &v
		}
		if durationMs.Valid {
			v := durationMs.Int64
			e.DurationMs = &v
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// ListExecutionHistoryByCursor is the cursor-mode alternate listing behind
// GetExecutionHistory (spec §4.2, §9): additive to the offset-paginated
// primary contract above. An empty afterCursor starts from the most recent
// execution. The returned nextCursor is "" once the caller has reached the
// end of the history.
func (s *Store) ListExecutionHistoryByCursor(ctx context.Context, taskID, afterCursor string, limit int) ([]model.TaskExecution, string, error) {
	if limit < 1 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if afterCursor == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, task_id, executed_at, completed_at, status, error_message, chat_id, message_id, duration_ms
			FROM task_executions WHERE task_id = ?
			ORDER BY executed_at DESC, id DESC LIMIT ?`, taskID, limit+1)
	} else {
		afterAt, afterID, decErr := cursor.Decode(afterCursor)
		if decErr != nil {
			return nil, "", decErr
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, task_id, executed_at, completed_at, status, error_message, chat_id, message_id, duration_ms
			FROM task_executions WHERE task_id = ? AND (executed_at, id) < (?, ?)
			ORDER BY executed_at DESC, id DESC LIMIT ?`, taskID, afterAt.UTC(), afterID, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []model.TaskExecution
	for rows.Next() {
		var e model.TaskExecution
		var completedAt sql.NullTime
		var durationMs sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ExecutedAt, &completedAt, &e.Status, &e.ErrorMsg, &e.ChatID, &e.MessageID, &durationMs); err != nil {
			return nil, "", err
		}
		if completedAt.Valid {
			v := completedAt.Time.UTC()
			e.CompletedAt = &v
		}
		if durationMs.Valid {
			v := durationMs.Int64
			e.DurationMs = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) > limit {
		last := out[limit-1]
		next = cursor.Encode(last.ExecutedAt, last.ID)
		out = out[:limit]
	}
	return out, next, nil
}
