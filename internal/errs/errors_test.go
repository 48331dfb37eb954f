package errs

import (
	"errors"
	"testing"
)

func TestUserError_FormatsMessage(t *testing.T) {
	err := NewUserError("user %s not found", "u-1")
	if err.Error() != "user u-1 not found" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestSchedulerError_AsMatch(t *testing.T) {
	var err error = NewSchedulerError("task limit exceeded for user %s", "u-1")
	var target *SchedulerError
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to match *SchedulerError")
	}
}

func TestClaudeAgentError_WrapsUnderlying(t *testing.T) {
	underlying := errors.New("connection reset")
	err := NewClaudeAgentError("stream failed", underlying)
	if !errors.Is(err, underlying) {
		t.Fatal("expected errors.Is to find the wrapped underlying error")
	}
	if got := err.Error(); got != "stream failed: connection reset" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestStreamCancelledError_CarriesFinalContent(t *testing.T) {
	err := &StreamCancelledError{FinalContent: `[{"type":"text_delta"}]`}
	if err.Error() != "stream cancelled" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if err.FinalContent == "" {
		t.Fatal("expected final content to be preserved")
	}
}

func TestInvalidCursorError_IncludesCursor(t *testing.T) {
	err := &InvalidCursorError{Cursor: "not-base64"}
	if err.Error() != "invalid cursor format: not-base64" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
