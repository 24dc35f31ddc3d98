package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWaitTimeout is matched by a WaitError whose attempt or time budget
	// ran out before the awaited state was observed.
	ErrWaitTimeout = errors.New("wait budget exhausted")

	// ErrSetupBroken is returned by the setup wait when FailOnBroken is set
	// and the connector reports a broken setup.
	ErrSetupBroken = errors.New("connector setup is broken")
)

// WaitError describes a polling loop that gave up.
type WaitError struct {
	// Phase is the wait phase, PhaseSetupWait or PhaseSyncWait.
	Phase Phase `json:"phase"`

	// ConnectorID is the connector being polled.
	ConnectorID string `json:"connector_id"`

	// Attempts is the number of status fetches performed.
	Attempts int `json:"attempts"`

	// Elapsed is the wall time spent waiting.
	Elapsed time.Duration `json:"elapsed"`

	// LastState is the last observed state.
	LastState string `json:"last_state,omitempty"`

	// Err is ErrWaitTimeout or ErrSetupBroken.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *WaitError) Error() string {
	return fmt.Sprintf("%s for connector %s after %d attempts (%s, last state %q): %v",
		e.Phase, e.ConnectorID, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastState, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *WaitError) Unwrap() error {
	return e.Err
}

// IsWaitTimeout returns true if err is a wait that ran out of budget.
func IsWaitTimeout(err error) bool {
	return errors.Is(err, ErrWaitTimeout)
}

// PhaseError attaches the failing run phase to an error.
type PhaseError struct {
	Phase Phase
	Err   error
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PhaseError) Unwrap() error {
	return e.Err
}

// FailedPhase returns the phase an error was raised in, or the empty phase.
func FailedPhase(err error) Phase {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}
