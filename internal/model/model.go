// Package model holds the data-model types shared across the streaming and
// scheduling packages. Types here carry no behavior beyond small invariant
// helpers; persistence lives in internal/store, encryption in
// internal/cryptutil.
package model

import "time"

// User is the account identity a Chat and ScheduledTask belong to.
type User struct {
	ID       string
	Email    string
	Username string
}

// ProviderType enumerates the custom-provider kinds UserSettings can name.
type ProviderType string

const (
	ProviderTypeAnthropic  ProviderType = "anthropic"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeCustom     ProviderType = "custom"
)

// ProviderModel is one selectable model under a CustomProvider.
type ProviderModel struct {
	ModelID string `json:"model_id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// CustomProvider is one entry of UserSettings.custom_providers.
type CustomProvider struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	ProviderType ProviderType    `json:"provider_type"`
	BaseURL      string          `json:"base_url,omitempty"`
	AuthToken    string          `json:"auth_token,omitempty"`
	Enabled      bool            `json:"enabled"`
	Models       []ProviderModel `json:"models"`
}

// UserSettings is 1-1 with User. ProviderCredentials and CustomProviders are
// stored encrypted at rest (internal/cryptutil); the Go-side fields here hold
// the decrypted/decoded view.
type UserSettings struct {
	UserID              string
	ProviderCredentials []byte
	CustomProviders     []CustomProvider
	SandboxProvider     string
	SandboxID           string
	FeatureToggles      map[string]bool
}

// FindProviderForModel returns the enabled CustomProvider that serves
// modelID, or nil if none does. Mirrors validators.py's provider lookup.
func (s *UserSettings) FindProviderForModel(modelID string) *CustomProvider {
	for i := range s.CustomProviders {
		p := &s.CustomProviders[i]
		for _, m := range p.Models {
			if m.ModelID == modelID && m.Enabled {
				return p
			}
		}
	}
	return nil
}

// Chat is a conversation thread, optionally bound to a sandbox and a
// provider-issued session handle that may be rewritten mid-stream.
type Chat struct {
	ID                string
	UserID            string
	Title             string
	SandboxID         string
	SandboxProvider   string
	SessionID         string
	ContextTokenUsage *int64
}

// Role enumerates Message.role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StreamStatus enumerates the terminal states of an assistant Message.
type StreamStatus string

const (
	StreamStatusInProgress StreamStatus = "in_progress"
	StreamStatusCompleted  StreamStatus = "completed"
	StreamStatusInterrupt  StreamStatus = "interrupted"
	StreamStatusFailed     StreamStatus = "failed"
)

// IsTerminal reports whether s is one of the non-reversible end states.
func (s StreamStatus) IsTerminal() bool {
	return s == StreamStatusCompleted || s == StreamStatusInterrupt || s == StreamStatusFailed
}

// Attachment is an owned child row of Message (or a QueuedMessage, prior to
// being materialized into a Message on injection).
type Attachment struct {
	ID        string
	MessageID string
	FileURL   string
	FileType  string
	Filename  string
	CreatedAt time.Time
}

// Message is one turn of a Chat. Content holds plain text for RoleUser and a
// JSON-serialized []StreamEvent for RoleAssistant.
type Message struct {
	ID           string
	ChatID       string
	Role         Role
	Content      string
	ModelID      string
	StreamStatus StreamStatus // assistant only; zero value for user rows
	TotalCostUSD *float64
	SessionID    string
	CheckpointID string
	Attachments  []Attachment
}

// RecurrenceType enumerates ScheduledTask.recurrence_type.
type RecurrenceType string

const (
	RecurrenceOnce    RecurrenceType = "ONCE"
	RecurrenceDaily   RecurrenceType = "DAILY"
	RecurrenceWeekly  RecurrenceType = "WEEKLY"
	RecurrenceMonthly RecurrenceType = "MONTHLY"
)

// TaskStatus enumerates ScheduledTask.status.
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "ACTIVE"
	TaskStatusPaused    TaskStatus = "PAUSED"
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
)

// ScheduledTask is a recurring or one-shot prompt execution owned by a user.
type ScheduledTask struct {
	ID             string
	UserID         string
	TaskName       string
	PromptMessage  string
	ModelID        string
	RecurrenceType RecurrenceType
	ScheduledTime  string // HH:MM[:SS] UTC
	ScheduledDay   *int   // WEEKLY: 0..6 Mon..Sun; MONTHLY: 1..31
	Status         TaskStatus
	Enabled        bool
	NextExecution  *time.Time
	ExecutionCount int64
	FailureCount   int64
	LastExecution  *time.Time
	LastError      string
}

// ExecutionStatus enumerates TaskExecution.status.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// TaskExecution is one fire-and-complete record of a ScheduledTask.
type TaskExecution struct {
	ID          string
	TaskID      string
	ExecutedAt  time.Time
	CompletedAt *time.Time
	Status      ExecutionStatus
	ErrorMsg    string
	ChatID      string
	MessageID   string
	DurationMs  *int64
}

// PermissionMode enumerates QueuedMessage.permission_mode.
type PermissionMode string

const (
	PermissionPlan PermissionMode = "plan"
	PermissionAsk  PermissionMode = "ask"
	PermissionAuto PermissionMode = "auto"
)

// QueuedMessage is a transient, log-resident message awaiting injection at
// the next safe stream boundary.
type QueuedMessage struct {
	ID             string
	Content        string
	ModelID        string
	PermissionMode PermissionMode
	ThinkingMode   string
	QueuedAt       time.Time
	Attachments    []Attachment
}

// StreamEvent is one tagged record of an in-flight or completed assistant
// turn. Extra holds fields of event types not yet promoted to named struct
// fields, keeping the type forward-compatible with new provider event shapes.
type StreamEvent struct {
	Type      string         `json:"type"`
	ToolName  string         `json:"tool_name,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
	TextDelta string         `json:"text_delta,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// RefreshToken backs session renewal and the cleanup_expired_tokens sweep
// (spec §4.3), supplemented from original_source's user_manager.py.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
}
