package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatstreamd/internal/cancel"
	"chatstreamd/internal/model"
	"chatstreamd/internal/orchestrator"
	"chatstreamd/internal/provider"
	"chatstreamd/internal/publisher"
	"chatstreamd/internal/store"
	"chatstreamd/internal/streamkv"
)

// fakeStream emits a fixed set of events then closes, satisfying
// provider.Stream for runner dispatch tests without a real AI provider.
type fakeStream struct {
	events chan model.StreamEvent
	errs   chan error
}

func newFakeStream(events []model.StreamEvent) *fakeStream {
	s := &fakeStream{events: make(chan model.StreamEvent, len(events)), errs: make(chan error, 1)}
	for _, e := range events {
		s.events <- e
	}
	close(s.events)
	return s
}

func (s *fakeStream) Events() (<-chan model.StreamEvent, <-chan error) { return s.events, s.errs }
func (s *fakeStream) CancelActiveStream(ctx context.Context) error     { return nil }
func (s *fakeStream) GetTotalCostUSD() float64                        { return 0.01 }

type fakeClient struct {
	stream *fakeStream
}

func (c *fakeClient) StartStream(ctx context.Context, req provider.StreamRequest) (provider.Stream, error) {
	return c.stream, nil
}
func (c *fakeClient) Close() error { return nil }

func newTestRunner(t *testing.T) (*Runner, *store.Store) {
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

	pub := publisher.New(kv, nil, nil)
	watcher := cancel.New(kv, nil, 50*time.Millisecond, nil)
	orch := orchestrator.New(st, kv, pub, watcher, nil)

	var fc *fakeClient
	cfg := RunnerConfig{
		Store:        st,
		Orchestrator: orch,
		ClientFactory: func(ctx context.Context, settings *model.UserSettings, modelID string) (provider.Client, error) {
			return fc, nil
		},
	}
	r := NewRunner(cfg)
	fc = &fakeClient{stream: newFakeStream([]model.StreamEvent{{Type: provider.EventResult}})}
	// Rebuild the factory now that fc is the object tests will mutate.
	r.clientFactory = func(ctx context.Context, settings *model.UserSettings, modelID string) (provider.Client, error) {
		return fc, nil
	}
	return r, st
}

func seedUserAndProvider(t *testing.T, st *store.Store, userID, modelID string) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateUser(ctx, &model.User{ID: userID, Email: userID + "@x.com", Username: userID}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	settings := &model.UserSettings{
		UserID: userID,
		CustomProviders: []model.CustomProvider{{
			ID: "p1", Name: "anthropic", ProviderType: model.ProviderTypeAnthropic,
			AuthToken: "secret", Enabled: true,
			Models: []model.ProviderModel{{ModelID: modelID, Name: modelID, Enabled: true}},
		}},
	}
	if err := st.UpsertUserSettings(ctx, settings); err != nil {
		t.Fatalf("UpsertUserSettings: %v", err)
	}
}

func TestRunner_RunScheduledTask_Success(t *testing.T) {
	r, st := newTestRunner(t)
	ctx := context.Background()
	seedUserAndProvider(t, st, "user-1", "model-1")

	svc := NewService(st)
	task, err := svc.CreateTask(ctx, CreateTaskParams{
		UserID:         "user-1",
		TaskName:       "daily digest",
		PromptMessage:  "summarize",
		ModelID:        "model-1",
		RecurrenceType: model.RecurrenceDaily,
		ScheduledTime:  "09:00:00",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	r.RunScheduledTask(ctx, task.ID)

	updated, err := st.GetScheduledTaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetScheduledTaskByID: %v", err)
	}
	if updated.ExecutionCount != 1 {
		t.Fatalf("execution_count = %d, want 1", updated.ExecutionCount)
	}
	if updated.LastError != "" {
		t.Fatalf("last_error = %q, want empty", updated.LastError)
	}

	history, total, err := st.ListExecutionHistory(ctx, task.ID, 1, 10)
	if err != nil {
		t.Fatalf("ListExecutionHistory: %v", err)
	}
	if total != 1 {
		t.Fatalf("execution history total = %d, want 1", total)
	}
	if history[0].Status != model.ExecutionSuccess {
		t.Fatalf("execution status = %q, want SUCCESS", history[0].Status)
	}
}

func TestRunner_RunScheduledTask_DedupesWithinWindow(t *testing.T) {
	r, st := newTestRunner(t)
	ctx := context.Background()
	seedUserAndProvider(t, st, "user-1", "model-1")

	svc := NewService(st)
	task, err := svc.CreateTask(ctx, CreateTaskParams{
		UserID:         "user-1",
		TaskName:       "t",
		PromptMessage:  "p",
		ModelID:        "model-1",
		RecurrenceType: model.RecurrenceDaily,
		ScheduledTime:  "09:00:00",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Seed a RUNNING execution inside the dedupe window directly, simulating
	// a concurrent in-flight dispatch.
	if _, err := st.CreateRunningExecution(ctx, task.ID, time.Now().UTC()); err != nil {
		t.Fatalf("CreateRunningExecution: %v", err)
	}

	r.RunScheduledTask(ctx, task.ID)

	_, total, err := st.ListExecutionHistory(ctx, task.ID, 1, 10)
	if err != nil {
		t.Fatalf("ListExecutionHistory: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected the duplicate dispatch to be rejected, got %d executions", total)
	}
}

func TestRunner_RunScheduledTask_APIKeyValidationFailureRecordsFailedExecution(t *testing.T) {
	r, st := newTestRunner(t)
	ctx := context.Background()

	if err := st.CreateUser(ctx, &model.User{ID: "user-1", Email: "a@b.com", Username: "a"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := st.UpsertUserSettings(ctx, &model.UserSettings{UserID: "user-1"}); err != nil {
		t.Fatalf("UpsertUserSettings: %v", err)
	}

	svc := NewService(st)
	task, err := svc.CreateTask(ctx, CreateTaskParams{
		UserID:         "user-1",
		TaskName:       "t",
		PromptMessage:  "p",
		ModelID:        "unconfigured-model",
		RecurrenceType: model.RecurrenceDaily,
		ScheduledTime:  "09:00:00",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	r.RunScheduledTask(ctx, task.ID)

	history, total, err := st.ListExecutionHistory(ctx, task.ID, 1, 10)
	if err != nil {
		t.Fatalf("ListExecutionHistory: %v", err)
	}
	if total != 1 || history[0].Status != model.ExecutionFailed {
		t.Fatalf("expected one FAILED execution, got total=%d status=%v", total, history)
	}

	updated, err := st.GetScheduledTaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetScheduledTaskByID: %v", err)
	}
	if updated.FailureCount != 1 {
		t.Fatalf("failure_count = %d, want 1", updated.FailureCount)
	}
	if updated.NextExecution == nil {
		t.Fatal("expected next_execution to still advance on failure")
	}
}

func TestRunner_CheckDue_ClaimsAndDispatches(t *testing.T) {
	r, st := newTestRunner(t)
	ctx := context.Background()
	seedUserAndProvider(t, st, "user-1", "model-1")

	svc := NewService(st)
	task, err := svc.CreateTask(ctx, CreateTaskParams{
		UserID:         "user-1",
		TaskName:       "t",
		PromptMessage:  "p",
		ModelID:        "model-1",
		RecurrenceType: model.RecurrenceOnce,
		ScheduledTime:  "00:00:01",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	// Force it due immediately.
	past := time.Now().UTC().Add(-time.Minute)
	if err := st.AdvanceNextExecution(ctx, task.ID, &past); err != nil {
		t.Fatalf("AdvanceNextExecution: %v", err)
	}

	r.CheckDue(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		updated, err := st.GetScheduledTaskByID(ctx, task.ID)
		if err != nil {
			t.Fatalf("GetScheduledTaskByID: %v", err)
		}
		if updated.Status == model.TaskStatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not reach COMPLETED after ONCE fire, status=%v", updated.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
