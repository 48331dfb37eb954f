// Package sandbox implements the narrow SandboxProvider interface the spec
// treats as an external collaborator (spec §1, §4.4), plus one concrete
// Docker-backed implementation grounded on the teacher's
// internal/tools/docker.go.
package sandbox

import "context"

// Instance is an opaque sandbox handle returned by Create, persisted on
// Chat.sandbox_id/sandbox_provider (spec §3).
type Instance struct {
	ID       string
	Provider string
}

// Provider is the narrow contract the Stream Orchestrator and Scheduler
// Runner depend on (spec §1: "the sandboxed code-execution substrate ...
// we specify only the event shape it produces and the cancel/session
// callbacks it honors" — here, create/initialize/checkpoint).
type Provider interface {
	// Create provisions a fresh sandbox instance for a chat.
	Create(ctx context.Context, chatID string) (Instance, error)
	// Initialize configures an existing instance with user-level settings
	// (e.g. provider credentials the sandboxed agent needs), run once
	// right after Create (spec §4.2 step 5, §4.3).
	Initialize(ctx context.Context, instance Instance, settings map[string]string) error
	// Checkpoint snapshots the instance's current state and returns an
	// opaque checkpoint id (spec §3 GLOSSARY "Checkpoint"). Checkpoint
	// failures are warnings, not stream failures (spec §4.4 step on
	// COMPLETED finalization).
	Checkpoint(ctx context.Context, instance Instance) (string, error)
	// Close releases any resources held by the provider implementation
	// itself (e.g. a Docker client connection), not a single instance.
	Close() error
}
