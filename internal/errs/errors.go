// Package errs defines the typed error kinds the streaming and scheduling
// core raises, per spec §7. Callers distinguish them with errors.As rather
// than string matching.
package errs

import "fmt"

// UserError signals missing or invalid user state, e.g. no UserSettings row.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

func NewUserError(format string, args ...any) *UserError {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// SchedulerError signals invalid recurrence, a missing task, or the
// per-user active-task cap being exceeded.
type SchedulerError struct {
	Msg string
}

func (e *SchedulerError) Error() string { return e.Msg }

func NewSchedulerError(format string, args ...any) *SchedulerError {
	return &SchedulerError{Msg: fmt.Sprintf(format, args...)}
}

// APIKeyValidationError signals a provider/model misconfiguration (spec §4.9).
type APIKeyValidationError struct {
	Msg string
}

func (e *APIKeyValidationError) Error() string { return e.Msg }

func NewAPIKeyValidationError(format string, args ...any) *APIKeyValidationError {
	return &APIKeyValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ClaudeAgentError signals a provider failure, an empty stream, or an
// unexpected event shape from the AI provider client.
type ClaudeAgentError struct {
	Msg string
	Err error
}

func (e *ClaudeAgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ClaudeAgentError) Unwrap() error { return e.Err }

func NewClaudeAgentError(msg string, err error) *ClaudeAgentError {
	return &ClaudeAgentError{Msg: msg, Err: err}
}

// StreamCancelledError signals cooperative interruption of an active stream.
// FinalContent carries the JSON-serialized events persisted before cancel,
// matching the original orchestrator's StreamCancelled(final_content).
type StreamCancelledError struct {
	FinalContent string
}

func (e *StreamCancelledError) Error() string { return "stream cancelled" }

// InvalidCursorError signals a malformed pagination cursor.
type InvalidCursorError struct {
	Cursor string
}

func (e *InvalidCursorError) Error() string {
	return fmt.Sprintf("invalid cursor format: %s", e.Cursor)
}
