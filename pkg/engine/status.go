package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a validation run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the sync succeeded and, when enabled,
	// verification passed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a phase errored, the sync failed or
	// verification found a mismatch.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run context was cancelled.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// SyncOutcome is the terminal result of a historical sync.
type SyncOutcome string

const (
	// SyncOutcomeNone means no sync reached a terminal state.
	SyncOutcomeNone SyncOutcome = "none"

	// SyncSucceeded means the connector reported succeeded_at.
	SyncSucceeded SyncOutcome = "succeeded"

	// SyncFailed means the connector reported failed_at.
	SyncFailed SyncOutcome = "failed"
)

// Validate checks if the sync outcome is valid.
func (o SyncOutcome) Validate() error {
	switch o {
	case SyncOutcomeNone, SyncSucceeded, SyncFailed:
		return nil
	default:
		return fmt.Errorf("invalid sync outcome: %s", o)
	}
}

// ResourceKind names a platform resource type.
type ResourceKind string

const (
	ResourceGroup       ResourceKind = "group"
	ResourceDestination ResourceKind = "destination"
	ResourceConnector   ResourceKind = "connector"
)

// Validate checks if the resource kind is valid.
func (k ResourceKind) Validate() error {
	switch k {
	case ResourceGroup, ResourceDestination, ResourceConnector:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// Phase names a step of a validation run.
type Phase string

const (
	PhaseSweep        Phase = "sweep"
	PhaseProvision    Phase = "provision"
	PhaseSetupWait    Phase = "setup_wait"
	PhaseSchemaReload Phase = "schema_reload"
	PhaseSchemaFilter Phase = "schema_filter"
	PhaseSchemaUpdate Phase = "schema_update"
	PhaseSyncWait     Phase = "sync_wait"
	PhaseVerify       Phase = "verify"
	PhaseTeardown     Phase = "teardown"
)

// Mode selects how deletion sequences react to a failed step.
type Mode string

const (
	// ModeFailFast stops at the first failed deletion.
	ModeFailFast Mode = "fail_fast"

	// ModeBestEffort attempts every deletion and reports all failures joined.
	ModeBestEffort Mode = "best_effort"
)

// Validate checks if the mode is valid.
func (m Mode) Validate() error {
	switch m {
	case ModeFailFast, ModeBestEffort:
		return nil
	default:
		return fmt.Errorf("invalid mode: %s", m)
	}
}

// MarshalJSON implements json.Marshaler for RunStatus.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for RunStatus.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := RunStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// MarshalJSON implements json.Marshaler for SyncOutcome.
func (o SyncOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements json.Unmarshaler for SyncOutcome.
func (o *SyncOutcome) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	outcome := SyncOutcome(str)
	if err := outcome.Validate(); err != nil {
		return err
	}
	*o = outcome
	return nil
}
