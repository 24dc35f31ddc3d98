package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/syncprobe/pkg/engine"
)

// ErrNotFound is returned when a looked up record does not exist.
var ErrNotFound = errors.New("record not found")

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one validation run in the ledger.
type Run struct {
	ID          string             `json:"id" yaml:"id"`
	GroupName   string             `json:"group_name" yaml:"group_name"`
	Status      engine.RunStatus   `json:"status" yaml:"status"`
	SyncOutcome engine.SyncOutcome `json:"sync_outcome" yaml:"sync_outcome"`
	StartedAt   time.Time          `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       *string            `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" yaml:"updated_at"`
}

// Resource is a platform resource a run created.
type Resource struct {
	Kind       engine.ResourceKind `json:"kind" yaml:"kind"`
	ResourceID string              `json:"resource_id" yaml:"resource_id"`
	RunID      string              `json:"run_id" yaml:"run_id"`
	CreatedAt  time.Time           `json:"created_at" yaml:"created_at"`
	DeletedAt  *time.Time          `json:"deleted_at,omitempty" yaml:"deleted_at,omitempty"`
}

// Live reports whether the resource has not been deleted yet.
func (r *Resource) Live() bool {
	return r.DeletedAt == nil
}

// Event is an append-only timeline entry.
type Event struct {
	ID           string     `json:"id"`
	RunID        *string    `json:"run_id,omitempty"`
	Type         string     `json:"type"`
	ResourceKind *string    `json:"resource_kind,omitempty"`
	ResourceID   *string    `json:"resource_id,omitempty"`
	Level        EventLevel `json:"level"`
	Message      string     `json:"message"`
	Details      *string    `json:"details,omitempty"` // JSON blob
	Timestamp    time.Time  `json:"timestamp"`
}

// AuditEntry records a destructive command.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g. "sweep", "teardown"
	Actor     string    `json:"actor"`               // OS user running the command
	TargetID  *string   `json:"target_id,omitempty"` // run or group id
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store is the run ledger.
type Store interface {
	engine.Recorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Resource operations
	ListResourcesByRun(ctx context.Context, runID string) ([]*Resource, error)
	ListLiveResources(ctx context.Context) ([]*Resource, error)
	ProvisionedForRun(ctx context.Context, runID string) (engine.Provisioned, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
