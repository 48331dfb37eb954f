package bus

import "testing"

// TestEventTopics_Constants verifies all stream/queue/scheduler/cancel
// topic constants exist and are unique.
func TestEventTopics_Constants(t *testing.T) {
	topics := map[string]bool{
		TopicStreamAppended:          true,
		TopicStreamStarted:           true,
		TopicStreamComplete:          true,
		TopicStreamError:             true,
		TopicQueueMessageAdded:       true,
		TopicQueueInjected:           true,
		TopicSchedulerTaskDispatched: true,
		TopicSchedulerTaskSucceeded:  true,
		TopicSchedulerTaskFailed:     true,
		TopicSchedulerTaskSkipped:    true,
		TopicCancelRequested:         true,
		TopicCancelObserved:          true,
	}
	for name := range topics {
		if name == "" {
			t.Fatal("found empty topic constant")
		}
	}
	if len(topics) != 12 {
		t.Fatalf("expected 12 unique topics, got %d", len(topics))
	}
}

func TestStreamAppendedEvent_Fields(t *testing.T) {
	e := StreamAppendedEvent{ChatID: "chat-1", Kind: "content", Payload: `{"event":{}}`}
	if e.ChatID == "" || e.Kind == "" || e.Payload == "" {
		t.Fatal("StreamAppendedEvent fields must round-trip")
	}
}

func TestQueueInjectedEvent_Fields(t *testing.T) {
	e := QueueInjectedEvent{
		ChatID:             "chat-1",
		QueuedMessageID:    "qm-1",
		UserMessageID:      "um-1",
		AssistantMessageID: "am-1",
	}
	if e.QueuedMessageID == "" || e.UserMessageID == "" || e.AssistantMessageID == "" {
		t.Fatal("QueueInjectedEvent fields must round-trip")
	}
}

func TestSchedulerTaskEvent_Fields(t *testing.T) {
	e := SchedulerTaskEvent{TaskID: "task-1", UserID: "user-1", ExecutionID: "exec-1"}
	if e.TaskID == "" || e.UserID == "" || e.ExecutionID == "" {
		t.Fatal("SchedulerTaskEvent fields must round-trip")
	}

	failed := SchedulerTaskEvent{TaskID: "task-2", Reason: "provider error"}
	if failed.Reason == "" {
		t.Fatal("Reason must be settable for failed/skipped events")
	}
}
