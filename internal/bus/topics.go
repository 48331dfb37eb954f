package bus

// StreamAppendedEvent is fanned out whenever an entry is appended to a
// chat's shared log (spec §4.8): every published entry is additionally
// fanned out on the bus so in-process subscribers observe it live without
// polling the table.
type StreamAppendedEvent struct {
	ChatID  string
	Kind    string
	Payload string
}

// QueueMessageAddedEvent is published when a message is appended to a
// chat's queue (spec §4.6, §4.7).
type QueueMessageAddedEvent struct {
	ChatID    string
	MessageID string
	Position  int
}

// QueueInjectedEvent is published once an injected queued message's user
// and assistant Messages have been persisted (spec §4.6 step 4).
type QueueInjectedEvent struct {
	ChatID             string
	QueuedMessageID    string
	UserMessageID      string
	AssistantMessageID string
}

// SchedulerTaskEvent is published by the Scheduler Runner as it dispatches
// and resolves a due ScheduledTask (spec §4.3).
type SchedulerTaskEvent struct {
	TaskID      string
	UserID      string
	ExecutionID string
	Reason      string // populated on failed/skipped
}

// CancelEvent is published by the Cancellation Watcher when a cancellation
// flag is requested or observed (spec §4.5).
type CancelEvent struct {
	ChatID string
}
