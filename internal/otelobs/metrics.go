package otelobs

import "go.opentelemetry.io/otel/metric"

// Metrics holds the streaming/scheduling core's metric instruments (spec
// §5, §8: stream duration, events emitted, queue depth, dedupe rejections).
type Metrics struct {
	StreamDuration        metric.Float64Histogram
	EventsEmitted         metric.Int64Counter
	QueueDepth            metric.Int64UpDownCounter
	QueueRejected         metric.Int64Counter
	CancellationsObserved metric.Int64Counter
	CheckpointsCreated    metric.Int64Counter
	SchedulerDueClaimed   metric.Int64Counter
	SchedulerDispatched   metric.Int64Counter
	SchedulerSucceeded    metric.Int64Counter
	SchedulerFailed       metric.Int64Counter
	SchedulerDedupeReject metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.StreamDuration, err = meter.Float64Histogram("chatstreamd.stream.duration",
		metric.WithDescription("Stream Orchestrator turn duration in seconds, from Run to finalize"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.EventsEmitted, err = meter.Int64Counter("chatstreamd.stream.events_emitted",
		metric.WithDescription("StreamEvents published to the per-chat log"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("chatstreamd.queue.depth",
		metric.WithDescription("Current length of per-chat queued-message FIFOs"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueRejected, err = meter.Int64Counter("chatstreamd.queue.rejected",
		metric.WithDescription("AddMessage calls rejected because the per-chat queue was full"),
	)
	if err != nil {
		return nil, err
	}

	m.CancellationsObserved, err = meter.Int64Counter("chatstreamd.cancel.observed",
		metric.WithDescription("Revocation flags observed by the Cancellation Watcher"),
	)
	if err != nil {
		return nil, err
	}

	m.CheckpointsCreated, err = meter.Int64Counter("chatstreamd.sandbox.checkpoints",
		metric.WithDescription("Sandbox checkpoints created after a completed stream"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerDueClaimed, err = meter.Int64Counter("chatstreamd.scheduler.due_claimed",
		metric.WithDescription("ScheduledTasks claimed by check_due per tick"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerDispatched, err = meter.Int64Counter("chatstreamd.scheduler.dispatched",
		metric.WithDescription("ScheduledTasks handed to run_scheduled_task"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerSucceeded, err = meter.Int64Counter("chatstreamd.scheduler.succeeded",
		metric.WithDescription("run_scheduled_task completions recorded SUCCESS"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerFailed, err = meter.Int64Counter("chatstreamd.scheduler.failed",
		metric.WithDescription("run_scheduled_task completions recorded FAILED"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerDedupeReject, err = meter.Int64Counter("chatstreamd.scheduler.dedupe_rejected",
		metric.WithDescription("run_scheduled_task dispatches rejected by the 2-minute dedupe window"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
