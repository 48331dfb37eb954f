package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatstreamd/internal/model"
)

// CountActiveEnabledTasks returns the count of ScheduledTasks for userID with
// enabled=true and status in {ACTIVE, PENDING}, used to enforce spec §3's
// per-user cap of 10. excludeTaskID, if non-empty, is excluded from the
// count (spec §4.2's "re-enabling also re-checks the per-user cap (excluding
// the task itself)").
func (s *Store) CountActiveEnabledTasks(ctx context.Context, userID, excludeTaskID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scheduled_tasks
		WHERE user_id = ? AND enabled = 1 AND status IN ('ACTIVE','PENDING') AND id != ?`,
		userID, excludeTaskID).Scan(&count)
	return count, err
}

// CreateScheduledTask inserts a new task, generating its id if empty.
func (s *Store) CreateScheduledTask(ctx context.Context, t *model.ScheduledTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_tasks
				(id, user_id, task_name, prompt_message, model_id, recurrence_type, scheduled_time,
				 scheduled_day, status, enabled, next_execution, execution_count, failure_count,
				 last_execution, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.UserID, t.TaskName, t.PromptMessage, t.ModelID, t.RecurrenceType, t.ScheduledTime,
			t.ScheduledDay, t.Status, t.Enabled, t.NextExecution, t.ExecutionCount, t.FailureCount,
			t.LastExecution, t.LastError,
		)
		return err
	})
}

func scanScheduledTask(scan func(dest ...any) error) (*model.ScheduledTask, error) {
	var t model.ScheduledTask
	var scheduledDay sql.NullInt64
	var nextExec, lastExec sql.NullTime
	if err := scan(&t.ID, &t.UserID, &t.TaskName, &t.PromptMessage, &t.ModelID, &t.RecurrenceType,
		&t.ScheduledTime, &scheduledDay, &t.Status, &t.Enabled, &nextExec, &t.ExecutionCount,
		&t.FailureCount, &lastExec, &t.LastError); err != nil {
		return nil, err
	}
	if scheduledDay.Valid {
		v := int(scheduledDay.Int64)
		t.ScheduledDay = &v
	}
	if nextExec.Valid {
		v := nextExec.Time.UTC()
		t.NextExecution = &v
	}
	if lastExec.Valid {
		v := lastExec.Time.UTC()
		t.LastExecution = &v
	}
	return &t, nil
}

const scheduledTaskColumns = `id, user_id, task_name, prompt_message, model_id, recurrence_type,
	scheduled_time, scheduled_day, status, enabled, next_execution, execution_count, failure_count,
	last_execution, last_error`

// GetScheduledTask loads a task owned by userID; ErrNotFound on a missing
// row or ownership mismatch (spec §4.2).
func (s *Store) GetScheduledTask(ctx context.Context, userID, taskID string) (*model.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledTaskColumns+` FROM scheduled_tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	return scanScheduledTask(row.Scan)
}

// GetScheduledTaskByID loads a task by id regardless of owner, used by the
// Scheduler Runner's check_due dispatch path which claims across all users
// (spec §4.3 step 1's per-task run_scheduled_task(task_id)).
func (s *Store) GetScheduledTaskByID(ctx context.Context, taskID string) (*model.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledTaskColumns+` FROM scheduled_tasks WHERE id = ?`, taskID)
	return scanScheduledTask(row.Scan)
}

// ListScheduledTasks returns every task owned by userID.
func (s *Store) ListScheduledTasks(ctx context.Context, userID string) ([]model.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduledTaskColumns+` FROM scheduled_tasks WHERE user_id = ? ORDER BY task_name ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledTask
	for rows.Next() {
		t, err := scanScheduledTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ClaimDueTasks selects up to limit tasks where enabled AND status=ACTIVE
// AND next_execution <= now AND next_execution IS NOT NULL, ordered by
// next_execution ascending (spec §4.3 step 1).
func (s *Store) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]model.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduledTaskColumns+` FROM scheduled_tasks
		WHERE enabled = 1 AND status = 'ACTIVE' AND next_execution IS NOT NULL AND next_execution <= ?
		ORDER BY next_execution ASC LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledTask
	for rows.Next() {
		t, err := scanScheduledTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// AdvanceNextExecution rewrites next_execution (or clears it and marks
// PENDING when nextExecution is nil, for a ONCE task with no further fire),
// per spec §4.3 step 2.
func (s *Store) AdvanceNextExecution(ctx context.Context, taskID string, nextExecution *time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if nextExecution == nil {
			_, err := tx.ExecContext(ctx, `UPDATE scheduled_tasks SET next_execution = NULL, status = 'PENDING' WHERE id = ?`, taskID)
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE scheduled_tasks SET next_execution = ? WHERE id = ?`, nextExecution.UTC(), taskID)
		return err
	})
}

// UpdateScheduledTask applies a partial update, matching spec §4.2's
// update_task contract. Zero-value fields in patch are only applied when the
// corresponding Set* flag is true.
type ScheduledTaskPatch struct {
	TaskName       *string
	PromptMessage  *string
	ModelID        *string
	RecurrenceType *model.RecurrenceType
	ScheduledTime  *string
	ScheduledDay   **int
	Enabled        *bool
	Status         *model.TaskStatus
	NextExecution  **time.Time
	LastError      *string
}

// ApplyScheduledTaskPatch writes the non-nil fields of patch onto task taskID
// owned by userID. Recomputing next_execution and enforcing the per-user cap
// are the caller's (scheduler.Service) responsibility, per spec §4.2.
func (s *Store) ApplyScheduledTaskPatch(ctx context.Context, userID, taskID string, patch ScheduledTaskPatch) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_tasks WHERE id = ? AND user_id = ?`, taskID, userID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("store: update scheduled task: %w", ErrNotFound)
		}

		set := func(col string, val any) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE scheduled_tasks SET %s = ? WHERE id = ?`, col), val, taskID)
			return err
		}
		if patch.TaskName != nil {
			if err := set("task_name", *patch.TaskName); err != nil {
				return err
			}
		}
		if patch.PromptMessage != nil {
			if err := set("prompt_message", *patch.PromptMessage); err != nil {
				return err
			}
		}
		if patch.ModelID != nil {
			if err := set("model_id", *patch.ModelID); err != nil {
				return err
			}
		}
		if patch.RecurrenceType != nil {
			if err := set("recurrence_type", *patch.RecurrenceType); err != nil {
				return err
			}
		}
		if patch.ScheduledTime != nil {
			if err := set("scheduled_time", *patch.ScheduledTime); err != nil {
				return err
			}
		}
		if patch.ScheduledDay != nil {
			if err := set("scheduled_day", *patch.ScheduledDay); err != nil {
				return err
			}
		}
		if patch.Enabled != nil {
			if err := set("enabled", *patch.Enabled); err != nil {
				return err
			}
		}
		if patch.Status != nil {
			if err := set("status", *patch.Status); err != nil {
				return err
			}
		}
		if patch.NextExecution != nil {
			if err := set("next_execution", *patch.NextExecution); err != nil {
				return err
			}
		}
		if patch.LastError != nil {
			if err := set("last_error", *patch.LastError); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordTaskSuccess applies spec §4.3 step 7's bookkeeping: execution_count
// += 1, last_execution = startTime, last_error cleared, next_execution
// recomputed (nil disables the task and marks it COMPLETED).
func (s *Store) RecordTaskSuccess(ctx context.Context, taskID string, startTime time.Time, nextExecution *time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if nextExecution == nil {
			_, err := tx.ExecContext(ctx, `
				UPDATE scheduled_tasks SET execution_count = execution_count + 1, last_execution = ?,
					last_error = '', enabled = 0, status = 'COMPLETED', next_execution = NULL
				WHERE id = ?`, startTime.UTC(), taskID)
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE scheduled_tasks SET execution_count = execution_count + 1, last_execution = ?,
				last_error = '', next_execution = ?
			WHERE id = ?`, startTime.UTC(), nextExecution.UTC(), taskID)
		return err
	})
}

// RecordTaskFailure applies spec §4.3 step 8: failure_count += 1, last_error
// set, next_execution recomputed regardless of failure.
func (s *Store) RecordTaskFailure(ctx context.Context, taskID, errMsg string, nextExecution *time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE scheduled_tasks SET failure_count = failure_count + 1, last_error = ?, next_execution = ?
			WHERE id = ?`, errMsg, nextExecution, taskID)
		return err
	})
}

// DeleteScheduledTask is unconditional for the owner (spec §4.2).
func (s *Store) DeleteScheduledTask(ctx context.Context, userID, taskID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ? AND user_id = ?`, taskID, userID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("store: delete scheduled task: %w", ErrNotFound)
		}
		return nil
	})
}
