package otelobs

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.StreamDuration == nil {
		t.Error("StreamDuration is nil")
	}
	if m.EventsEmitted == nil {
		t.Error("EventsEmitted is nil")
	}
	if m.QueueDepth == nil {
		t.Error("QueueDepth is nil")
	}
	if m.QueueRejected == nil {
		t.Error("QueueRejected is nil")
	}
	if m.CancellationsObserved == nil {
		t.Error("CancellationsObserved is nil")
	}
	if m.CheckpointsCreated == nil {
		t.Error("CheckpointsCreated is nil")
	}
	if m.SchedulerDueClaimed == nil {
		t.Error("SchedulerDueClaimed is nil")
	}
	if m.SchedulerDispatched == nil {
		t.Error("SchedulerDispatched is nil")
	}
	if m.SchedulerSucceeded == nil {
		t.Error("SchedulerSucceeded is nil")
	}
	if m.SchedulerFailed == nil {
		t.Error("SchedulerFailed is nil")
	}
	if m.SchedulerDedupeReject == nil {
		t.Error("SchedulerDedupeReject is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter — metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
