// Package scheduler implements the Scheduler Service (spec §4.2, CRUD +
// enable/disable with the per-user active-task cap invariant) and the
// Scheduler Runner (runner.go, spec §4.3): the periodic check_due poll loop
// and the per-task dispatch wrapper that drives the Stream Orchestrator.
package scheduler

import (
	"context"
	"time"

	"chatstreamd/internal/errs"
	"chatstreamd/internal/model"
	"chatstreamd/internal/recurrence"
	"chatstreamd/internal/store"
)

// MaxActiveTasksPerUser is spec §3's invariant: "the count of ScheduledTasks
// with enabled=true and status in {ACTIVE, PENDING} never exceeds 10."
const MaxActiveTasksPerUser = 10

// Service is the Scheduler Service (spec §4.2).
type Service struct {
	store *store.Store
}

// NewService builds a Scheduler Service over the Durable Store Gateway.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// CreateTaskParams carries create_task's inputs (spec §4.2).
type CreateTaskParams struct {
	UserID         string
	TaskName       string
	PromptMessage  string
	ModelID        string
	RecurrenceType model.RecurrenceType
	ScheduledTime  string
	ScheduledDay   *int
}

// CreateTask enforces the per-user cap and recurrence validity, computes
// next_execution with allow_once=true, and persists status=ACTIVE,
// enabled=true (spec §4.2).
func (s *Service) CreateTask(ctx context.Context, p CreateTaskParams) (*model.ScheduledTask, error) {
	if err := recurrence.ValidateConstraints(p.RecurrenceType, p.ScheduledDay); err != nil {
		return nil, err
	}
	count, err := s.store.CountActiveEnabledTasks(ctx, p.UserID, "")
	if err != nil {
		return nil, err
	}
	if count >= MaxActiveTasksPerUser {
		return nil, errs.NewSchedulerError("user %s already has %d active scheduled tasks (max %d)", p.UserID, count, MaxActiveTasksPerUser)
	}

	next, err := recurrence.NextDateTime(p.RecurrenceType, p.ScheduledTime, p.ScheduledDay, time.Now().UTC(), true)
	if err != nil {
		return nil, err
	}

	task := &model.ScheduledTask{
		UserID:         p.UserID,
		TaskName:       p.TaskName,
		PromptMessage:  p.PromptMessage,
		ModelID:        p.ModelID,
		RecurrenceType: p.RecurrenceType,
		ScheduledTime:  p.ScheduledTime,
		ScheduledDay:   p.ScheduledDay,
		Status:         model.TaskStatusActive,
		Enabled:        true,
		NextExecution:  next,
	}
	if err := s.store.CreateScheduledTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTasks lists every task owned by userID.
func (s *Service) GetTasks(ctx context.Context, userID string) ([]model.ScheduledTask, error) {
	return s.store.ListScheduledTasks(ctx, userID)
}

// GetTask loads one task owned by userID; mismatched owner surfaces as
// store.ErrNotFound (spec §4.2: "mismatched owner -> not-found").
func (s *Service) GetTask(ctx context.Context, userID, taskID string) (*model.ScheduledTask, error) {
	return s.store.GetScheduledTask(ctx, userID, taskID)
}

// UpdateTaskParams carries update_task's partial-update inputs. Nil fields
// are left unchanged.
type UpdateTaskParams struct {
	TaskName       *string
	PromptMessage  *string
	ModelID        *string
	RecurrenceType *model.RecurrenceType
	ScheduledTime  *string
	ScheduledDay   **int
	Enabled        *bool
}

// UpdateTask applies a partial update (spec §4.2). Changing recurrence_type,
// scheduled_time, or scheduled_day revalidates and recomputes
// next_execution. Changing enabled false->true re-enters ACTIVE, clears
// last_error, recomputes next_execution if it was cleared or a scheduling
// field changed, and re-checks the per-user cap excluding this task.
// Enabled true->false sets status=PAUSED.
func (s *Service) UpdateTask(ctx context.Context, userID, taskID string, p UpdateTaskParams) (*model.ScheduledTask, error) {
	return s.updateTask(ctx, userID, taskID, p, false)
}

// updateTask is UpdateTask's implementation. forceEnableRecompute is set by
// ToggleTask, whose enable path recomputes next_execution unconditionally
// (spec §4.2) regardless of whether a scheduling field actually changed or
// next_execution was already set from before the task was disabled.
func (s *Service) updateTask(ctx context.Context, userID, taskID string, p UpdateTaskParams, forceEnableRecompute bool) (*model.ScheduledTask, error) {
	task, err := s.store.GetScheduledTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	recurrenceType := task.RecurrenceType
	scheduledTime := task.ScheduledTime
	scheduledDay := task.ScheduledDay
	schedulingChanged := false

	if p.RecurrenceType != nil {
		recurrenceType = *p.RecurrenceType
		schedulingChanged = true
	}
	if p.ScheduledTime != nil {
		scheduledTime = *p.ScheduledTime
		schedulingChanged = true
	}
	if p.ScheduledDay != nil {
		scheduledDay = *p.ScheduledDay
		schedulingChanged = true
	}
	if schedulingChanged {
		if err := recurrence.ValidateConstraints(recurrenceType, scheduledDay); err != nil {
			return nil, err
		}
	}

	patch := store.ScheduledTaskPatch{
		TaskName:      p.TaskName,
		PromptMessage: p.PromptMessage,
		ModelID:       p.ModelID,
	}
	if p.RecurrenceType != nil {
		patch.RecurrenceType = &recurrenceType
	}
	if p.ScheduledTime != nil {
		patch.ScheduledTime = &scheduledTime
	}
	if p.ScheduledDay != nil {
		patch.ScheduledDay = &scheduledDay
	}

	wasEnabled := task.Enabled
	nowEnabled := wasEnabled
	if p.Enabled != nil {
		nowEnabled = *p.Enabled
	}

	if p.Enabled != nil {
		patch.Enabled = p.Enabled
		if !wasEnabled && nowEnabled {
			// false->true: re-check cap excluding this task, re-enter
			// ACTIVE, clear last_error (spec §4.2).
			count, err := s.store.CountActiveEnabledTasks(ctx, userID, taskID)
			if err != nil {
				return nil, err
			}
			if count >= MaxActiveTasksPerUser {
				return nil, errs.NewSchedulerError("user %s already has %d active scheduled tasks (max %d)", userID, count, MaxActiveTasksPerUser)
			}
			activeStatus := model.TaskStatusActive
			patch.Status = &activeStatus
			empty := ""
			patch.LastError = &empty
			if task.NextExecution == nil || schedulingChanged || forceEnableRecompute {
				schedulingChanged = true
			}
		} else if wasEnabled && !nowEnabled {
			pausedStatus := model.TaskStatusPaused
			patch.Status = &pausedStatus
		}
	}

	if schedulingChanged && nowEnabled {
		next, err := recurrence.NextDateTime(recurrenceType, scheduledTime, scheduledDay, time.Now().UTC(), true)
		if err != nil {
			return nil, err
		}
		patch.NextExecution = &next
	}

	if err := s.store.ApplyScheduledTaskPatch(ctx, userID, taskID, patch); err != nil {
		return nil, err
	}
	return s.store.GetScheduledTask(ctx, userID, taskID)
}

// DeleteTask is unconditional for the owner (spec §4.2).
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	return s.store.DeleteScheduledTask(ctx, userID, taskID)
}

// ToggleTask flips enabled; on enable it always recomputes next_execution
// and re-checks the per-user cap (spec §4.2).
func (s *Service) ToggleTask(ctx context.Context, userID, taskID string) (*model.ScheduledTask, error) {
	task, err := s.store.GetScheduledTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	enabled := !task.Enabled
	return s.updateTask(ctx, userID, taskID, UpdateTaskParams{Enabled: &enabled}, true)
}

// GetExecutionHistory is offset-paginated, ordered by executed_at descending
// (spec §4.2).
func (s *Service) GetExecutionHistory(ctx context.Context, userID, taskID string, page, perPage int) ([]model.TaskExecution, int, error) {
	if _, err := s.store.GetScheduledTask(ctx, userID, taskID); err != nil {
		return nil, 0, err
	}
	return s.store.ListExecutionHistory(ctx, taskID, page, perPage)
}
