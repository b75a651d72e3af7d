package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// IsTerminal returns true if the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusAborted
}

// EventLevel represents the severity level of an event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one recorded apply or verify invocation.
type Run struct {
	ID           string     `json:"id"`
	Command      string     `json:"command"` // apply, verify
	ManifestPath string     `json:"manifest_path"`
	ManifestHash string     `json:"manifest_hash"`
	DryRun       bool       `json:"dry_run"`
	Status       RunStatus  `json:"status"`
	ExitCode     int        `json:"exit_code"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	Summary      string     `json:"summary"` // JSON blob of counts
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RunItemRecord is the persisted form of one app's outcome within a run.
type RunItemRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	AppID     string    `json:"app_id"`
	Driver    string    `json:"driver"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Message   *string   `json:"message,omitempty"`
	Version   *string   `json:"version,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is an append-only log event.
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	AppID     *string    `json:"app_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// AuditEntry is an audit trail entry for state-changing operations
// (state.reset, state.import, state.export).
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// HistoryStore defines the run-history persistence layer.
type HistoryStore interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, exitCode int, summary string, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Run item operations
	AppendRunItems(ctx context.Context, runID string, items []*RunItemRecord) error
	ListRunItems(ctx context.Context, runID string) ([]*RunItemRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
