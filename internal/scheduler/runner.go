package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatstreamd/internal/apikeys"
	"chatstreamd/internal/bus"
	"chatstreamd/internal/model"
	"chatstreamd/internal/orchestrator"
	"chatstreamd/internal/provider"
	"chatstreamd/internal/recurrence"
	"chatstreamd/internal/sandbox"
	"chatstreamd/internal/shared"
	"chatstreamd/internal/store"
)

// DedupeWindow is the 2-minute back-scan spec §4.3/§5/§8 names: a task
// dispatched twice within this window of a RUNNING/SUCCESS execution is
// rejected, guaranteeing at-most-one concurrent execution.
const DedupeWindow = 2 * time.Minute

// ClaimBatchSize is spec §4.3 step 1's "up to 100 tasks".
const ClaimBatchSize = 100

// ClientFactory builds the provider.Client a run_scheduled_task dispatch
// should use, resolved from the task owner's UserSettings and the task's
// model_id. Kept as a function rather than a fixed interface method because
// the concrete client depends on which CustomProvider was validated (spec
// §4.9).
type ClientFactory func(ctx context.Context, settings *model.UserSettings, modelID string) (provider.Client, error)

// RunnerConfig wires the Scheduler Runner's collaborators.
type RunnerConfig struct {
	Store         *store.Store
	Orchestrator  *orchestrator.Orchestrator
	Sandbox       sandbox.Provider // nil disables sandbox creation for dispatched tasks
	ClientFactory ClientFactory
	Bus           *bus.Bus
	Logger        *slog.Logger

	TickInterval time.Duration // defaults to 1 minute (spec §4.3: "runs every minute")
	ClaimLimit   int           // defaults to ClaimBatchSize
	DedupeWindow time.Duration // defaults to DedupeWindow
}

// Runner is the Scheduler Runner (spec §4.3): the periodic check_due poll
// loop plus the per-task dispatch wrapper that drives the Stream
// Orchestrator.
type Runner struct {
	store         *store.Store
	orchestrator  *orchestrator.Orchestrator
	sandbox       sandbox.Provider
	clientFactory ClientFactory
	bus           *bus.Bus
	logger        *slog.Logger

	tickInterval time.Duration
	claimLimit   int
	dedupeWindow time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner builds a Scheduler Runner from cfg, applying spec-mandated
// defaults for zero-value fields.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Minute
	}
	limit := cfg.ClaimLimit
	if limit <= 0 {
		limit = ClaimBatchSize
	}
	window := cfg.DedupeWindow
	if window <= 0 {
		window = DedupeWindow
	}
	return &Runner{
		store:         cfg.Store,
		orchestrator:  cfg.Orchestrator,
		sandbox:       cfg.Sandbox,
		clientFactory: cfg.ClientFactory,
		bus:           cfg.Bus,
		logger:        logger,
		tickInterval:  tick,
		claimLimit:    limit,
		dedupeWindow:  window,
	}
}

// Start begins the periodic check_due loop in a background goroutine,
// grounded on internal/cron.Scheduler's ticker-plus-cancelable-goroutine
// idiom (spec §4.3).
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("scheduler: runner started", "tick_interval", r.tickInterval)
}

// Stop cancels the loop and waits for in-flight dispatches started by this
// tick to be handed off (dispatch itself runs asynchronously per task).
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("scheduler: runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CheckDue(ctx)
		}
	}
}

// CheckDue implements spec §4.3's periodic trigger: claim due tasks,
// recompute their next_execution, commit, then dispatch each to
// RunScheduledTask concurrently (one goroutine per task id, matching the
// "parallel worker processes draw tasks from a work queue" model of §5).
func (r *Runner) CheckDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := r.store.ClaimDueTasks(ctx, now, r.claimLimit)
	if err != nil {
		r.logger.Error("scheduler: claim due tasks failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	taskIDs := make([]string, 0, len(due))
	for _, t := range due {
		next, err := recurrence.NextDateTime(t.RecurrenceType, t.ScheduledTime, t.ScheduledDay, now, false)
		if err != nil {
			r.logger.Error("scheduler: recompute next_execution failed", "task_id", t.ID, "error", err)
			continue
		}
		if err := r.store.AdvanceNextExecution(ctx, t.ID, next); err != nil {
			r.logger.Error("scheduler: advance next_execution failed", "task_id", t.ID, "error", err)
			continue
		}
		taskIDs = append(taskIDs, t.ID)
	}

	for _, id := range taskIDs {
		go func(taskID string) {
			// Dispatch runs detached from the tick's context: a tick firing
			// again one minute later must not cancel an in-flight run.
			r.RunScheduledTask(context.Background(), taskID)
		}(id)
	}
}

// RunScheduledTask implements spec §4.3's per-task execution wrapper. A
// trace_id is minted per dispatch and carried on ctx so every log line for
// this fire, including ones emitted downstream by the orchestrator it hands
// off to, can be correlated back to this one execution.
func (r *Runner) RunScheduledTask(ctx context.Context, taskID string) {
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)
	startTime := time.Now().UTC()

	task, owner, err := r.loadTaskAndOwner(ctx, taskID)
	if err != nil {
		if _, createErr := r.store.CreateFailedExecution(ctx, taskID, startTime, err.Error()); createErr != nil {
			r.logger.Error("scheduler: record failed execution for missing task failed", "task_id", taskID, "trace_id", traceID, "error", createErr)
		}
		r.publishSkipped(taskID, traceID, err.Error())
		return
	}

	dedupeSince := startTime.Add(-r.dedupeWindow)
	running, err := r.store.CountRunningOrSuccessSince(ctx, taskID, dedupeSince)
	if err != nil {
		r.logger.Error("scheduler: dedupe check failed", "task_id", taskID, "trace_id", traceID, "error", err)
		return
	}
	if running > 0 {
		// Rejected by the dedupe window (spec §4.3 step 2, §5, §8): a
		// duplicate dispatch within the window is silently skipped, not
		// recorded as a failure — the original execution owns this fire.
		r.publishSkipped(taskID, traceID, "dedupe window active")
		return
	}

	executionID, err := r.store.CreateRunningExecution(ctx, taskID, startTime)
	if err != nil {
		r.logger.Error("scheduler: create running execution failed", "task_id", taskID, "trace_id", traceID, "error", err)
		return
	}

	r.logger.Info("scheduler: task dispatch started", "task_id", taskID, "execution_id", executionID, "trace_id", traceID)

	if err := r.dispatch(ctx, task, owner, executionID, startTime); err != nil {
		r.failExecution(ctx, task, executionID, startTime, traceID, err)
		return
	}
	r.succeedExecution(ctx, task, executionID, startTime, traceID)
}

func (r *Runner) loadTaskAndOwner(ctx context.Context, taskID string) (*model.ScheduledTask, *model.UserSettings, error) {
	// Loaded without an owner scope first: check_due claims across all
	// users, so the owning user_id comes from the row itself.
	task, err := r.store.GetScheduledTaskByID(ctx, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: load task %s: %w", taskID, err)
	}
	settings, err := r.store.GetUserSettings(ctx, task.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: load owner settings for task %s: %w", taskID, err)
	}
	return task, settings, nil
}

// dispatch implements spec §4.3 steps 4-6: validate API keys, create and
// initialize a sandbox, create the Chat/Message triple, then hand off to
// the Stream Orchestrator.
func (r *Runner) dispatch(ctx context.Context, task *model.ScheduledTask, owner *model.UserSettings, executionID string, startTime time.Time) error {
	if err := apikeys.ValidateModelAPIKeys(owner, task.ModelID); err != nil {
		return err
	}

	chat := &model.Chat{UserID: task.UserID, Title: task.TaskName}
	if err := r.store.CreateChat(ctx, chat); err != nil {
		return fmt.Errorf("scheduler: create chat: %w", err)
	}

	var instance sandbox.Instance
	if r.sandbox != nil {
		inst, err := r.sandbox.Create(ctx, chat.ID)
		if err != nil {
			return fmt.Errorf("scheduler: create sandbox: %w", err)
		}
		instance = inst
		if err := r.store.UpdateChatSandbox(ctx, chat.ID, inst.ID, inst.Provider); err != nil {
			r.logger.Warn("scheduler: record chat sandbox failed", "chat_id", chat.ID, "error", err)
		}
		if err := r.sandbox.Initialize(ctx, instance, map[string]string{"user_id": task.UserID}); err != nil {
			return fmt.Errorf("scheduler: initialize sandbox: %w", err)
		}
	}

	userMessageID, err := r.store.CreateUserMessage(ctx, chat.ID, task.ModelID, task.PromptMessage, nil)
	if err != nil {
		return fmt.Errorf("scheduler: create user message: %w", err)
	}
	assistantMessageID, err := r.store.CreateAssistantMessage(ctx, chat.ID, task.ModelID, "")
	if err != nil {
		return fmt.Errorf("scheduler: create assistant message: %w", err)
	}
	_ = userMessageID

	if err := r.store.LinkExecutionChat(ctx, executionID, chat.ID, assistantMessageID); err != nil {
		r.logger.Warn("scheduler: link execution chat failed", "execution_id", executionID, "error", err)
	}

	var client provider.Client
	if r.clientFactory != nil {
		c, err := r.clientFactory(ctx, owner, task.ModelID)
		if err != nil {
			return fmt.Errorf("scheduler: build provider client: %w", err)
		}
		client = c
		defer client.Close()
	}

	req := orchestrator.Request{
		ChatID:             chat.ID,
		AssistantMessageID: assistantMessageID,
		Prompt:             task.PromptMessage,
		ModelID:            task.ModelID,
		Client:             client,
		Sandbox:            r.sandbox,
		Instance:           instance,
	}
	if r.bus != nil {
		r.bus.Publish(bus.TopicSchedulerTaskDispatched, bus.SchedulerTaskEvent{TaskID: task.ID, UserID: task.UserID, ExecutionID: executionID})
	}
	_, err = r.orchestrator.Run(ctx, req)
	return err
}

// succeedExecution implements spec §4.3 step 7's bookkeeping.
func (r *Runner) succeedExecution(ctx context.Context, task *model.ScheduledTask, executionID string, startTime time.Time, traceID string) {
	completedAt := time.Now().UTC()
	durationMs := completedAt.Sub(startTime).Milliseconds()
	if err := r.store.CompleteExecutionSuccess(ctx, executionID, completedAt, durationMs); err != nil {
		r.logger.Error("scheduler: mark execution success failed", "execution_id", executionID, "trace_id", traceID, "error", err)
	}

	next, err := recurrence.NextExecution(task, startTime)
	if err != nil {
		r.logger.Error("scheduler: recompute next_execution on success failed", "task_id", task.ID, "trace_id", traceID, "error", err)
		next = nil
	}
	if err := r.store.RecordTaskSuccess(ctx, task.ID, startTime, next); err != nil {
		r.logger.Error("scheduler: record task success failed", "task_id", task.ID, "trace_id", traceID, "error", err)
	}
	r.logger.Info("scheduler: task dispatch succeeded", "task_id", task.ID, "execution_id", executionID, "trace_id", traceID)
	if r.bus != nil {
		r.bus.Publish(bus.TopicSchedulerTaskSucceeded, bus.SchedulerTaskEvent{TaskID: task.ID, UserID: task.UserID, ExecutionID: executionID})
	}
}

// failExecution implements spec §4.3 step 8: failed runs still advance the
// schedule (next_execution is recomputed regardless of failure).
func (r *Runner) failExecution(ctx context.Context, task *model.ScheduledTask, executionID string, startTime time.Time, traceID string, runErr error) {
	completedAt := time.Now().UTC()
	if err := r.store.CompleteExecutionFailure(ctx, executionID, completedAt, runErr.Error()); err != nil {
		r.logger.Error("scheduler: mark execution failure failed", "execution_id", executionID, "trace_id", traceID, "error", err)
	}

	next, err := recurrence.NextExecution(task, startTime)
	if err != nil {
		r.logger.Error("scheduler: recompute next_execution on failure failed", "task_id", task.ID, "trace_id", traceID, "error", err)
		next = nil
	}
	if err := r.store.RecordTaskFailure(ctx, task.ID, runErr.Error(), next); err != nil {
		r.logger.Error("scheduler: record task failure failed", "task_id", task.ID, "trace_id", traceID, "error", err)
	}
	r.logger.Warn("scheduler: task dispatch failed", "task_id", task.ID, "execution_id", executionID, "trace_id", traceID, "error", runErr)
	if r.bus != nil {
		r.bus.Publish(bus.TopicSchedulerTaskFailed, bus.SchedulerTaskEvent{TaskID: task.ID, UserID: task.UserID, ExecutionID: executionID, Reason: runErr.Error()})
	}
}

func (r *Runner) publishSkipped(taskID, traceID, reason string) {
	r.logger.Warn("scheduler: task dispatch skipped", "task_id", taskID, "trace_id", traceID, "reason", reason)
	if r.bus != nil {
		r.bus.Publish(bus.TopicSchedulerTaskSkipped, bus.SchedulerTaskEvent{TaskID: taskID, Reason: reason})
	}
}
