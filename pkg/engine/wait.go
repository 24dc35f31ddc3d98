package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/telemetry"
)

// DefaultPollInterval is the pause between two status fetches.
const DefaultPollInterval = 10 * time.Second

// WaitOptions bounds a polling loop. Zero MaxAttempts and zero Timeout poll
// until the awaited state shows up or the context is cancelled.
type WaitOptions struct {
	// Interval is the pause between fetches. Zero uses DefaultPollInterval.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// MaxAttempts caps the number of status fetches.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Timeout caps the wall time spent waiting.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// FailOnBroken stops the setup wait when setup_state is broken.
	// Without it a broken setup keeps being polled.
	FailOnBroken bool `json:"fail_on_broken" yaml:"fail_on_broken"`
}

func (o WaitOptions) interval() time.Duration {
	if o.Interval <= 0 {
		return DefaultPollInterval
	}
	return o.Interval
}

// SyncResult is the terminal state of a historical sync.
type SyncResult struct {
	Outcome     SyncOutcome         `json:"outcome" yaml:"outcome"`
	SucceededAt string              `json:"succeeded_at,omitempty" yaml:"succeeded_at,omitempty"`
	FailedAt    string              `json:"failed_at,omitempty" yaml:"failed_at,omitempty"`
	Polls       int                 `json:"polls" yaml:"polls"`
	Elapsed     time.Duration       `json:"elapsed" yaml:"elapsed"`
	Connector   *fivetran.Connector `json:"-" yaml:"-"`
}

// Poller runs the setup and sync wait loops against one platform.
type Poller struct {
	platform ConnectorPoller
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
	runID    string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger.
func WithPollerLogger(logger zerolog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithPollerTelemetry records poll metrics and publishes poll events for runID.
func WithPollerTelemetry(metrics *telemetry.Metrics, events *telemetry.EventPublisher, runID string) PollerOption {
	return func(p *Poller) {
		p.metrics = metrics
		p.events = events
		p.runID = runID
	}
}

// NewPoller creates a poller.
func NewPoller(platform ConnectorPoller, opts ...PollerOption) *Poller {
	p := &Poller{
		platform: platform,
		logger:   zerolog.Nop(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitForSetup re-fetches the connector until its setup_state is connected.
// The first fetch happens immediately; every later one follows a pause.
func (p *Poller) WaitForSetup(ctx context.Context, connectorID string, opts WaitOptions) (*fivetran.Connector, error) {
	start := p.now()
	for attempt := 1; ; attempt++ {
		conn, err := p.platform.GetConnector(ctx, connectorID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch connector %s: %w", connectorID, err)
		}

		state := conn.Status.SetupState
		p.observe(PhaseSetupWait, telemetry.EventTypeSetupPolled, connectorID, string(state), attempt)

		switch {
		case state.IsConnected():
			p.logger.Info().Str("connector_id", connectorID).Int("attempts", attempt).Msg("Connector setup is connected")
			return conn, nil
		case state == fivetran.SetupBroken && opts.FailOnBroken:
			return nil, p.waitError(PhaseSetupWait, connectorID, attempt, start, string(state), ErrSetupBroken)
		case state == fivetran.SetupBroken:
			p.logger.Warn().Str("connector_id", connectorID).Msg("Connector setup reports broken, still waiting")
		default:
			p.logger.Info().Str("connector_id", connectorID).Str("setup_state", string(state)).
				Msg("Waiting for connector setup_state == \"connected\"")
		}

		if err := p.pause(ctx, opts, attempt, start); err != nil {
			return nil, p.wrapStop(PhaseSetupWait, connectorID, attempt, start, string(state), err)
		}
	}
}

// RunHistoricalSync triggers a historical sync and waits until the connector
// reports succeeded_at or failed_at. A failed sync is an outcome, not an error.
func (p *Poller) RunHistoricalSync(ctx context.Context, connectorID string, opts WaitOptions) (*SyncResult, error) {
	start := p.now()

	conn, err := p.platform.StartHistoricalSync(ctx, connectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to start historical sync for %s: %w", connectorID, err)
	}
	if err := p.events.Publish(telemetry.Event{
		Type:         telemetry.EventTypeSyncStarted,
		RunID:        p.runID,
		ResourceKind: string(ResourceConnector),
		ResourceID:   connectorID,
		Message:      "Historical sync requested",
	}); err != nil {
		p.logger.Debug().Err(err).Msg("Dropped sync event")
	}

	for attempt := 1; ; attempt++ {
		outcome := p.syncOutcome(conn)
		state := "running"
		if outcome != SyncOutcomeNone {
			state = string(outcome)
		}
		p.observe(PhaseSyncWait, telemetry.EventTypeSyncPolled, connectorID, state, attempt)

		if outcome != SyncOutcomeNone {
			res := &SyncResult{
				Outcome:   outcome,
				Polls:     attempt,
				Elapsed:   p.now().Sub(start),
				Connector: conn,
			}
			if conn.SucceededAt != nil {
				res.SucceededAt = *conn.SucceededAt
			}
			if conn.FailedAt != nil {
				res.FailedAt = *conn.FailedAt
			}
			p.logger.Info().Str("connector_id", connectorID).Str("outcome", string(outcome)).
				Int("polls", attempt).Msg("Historical sync finished")
			return res, nil
		}

		p.logger.Info().Str("connector_id", connectorID).Str("sync_state", string(conn.Status.SyncState)).
			Msg("Waiting for sync to finish")

		if err := p.pause(ctx, opts, attempt, start); err != nil {
			return nil, p.wrapStop(PhaseSyncWait, connectorID, attempt, start, state, err)
		}

		conn, err = p.platform.GetConnector(ctx, connectorID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch connector %s: %w", connectorID, err)
		}
	}
}

// syncOutcome maps the sync timestamps to an outcome. Both timestamps set
// violates the platform contract; the more recent one wins and an
// unparseable pair counts as failed.
func (p *Poller) syncOutcome(conn *fivetran.Connector) SyncOutcome {
	succeeded, failed := conn.SucceededAt != nil, conn.FailedAt != nil
	switch {
	case succeeded && failed:
		p.logger.Warn().Str("connector_id", conn.ID).Str("succeeded_at", *conn.SucceededAt).
			Str("failed_at", *conn.FailedAt).Msg("Connector reports both sync timestamps")
		s, errS := time.Parse(time.RFC3339, *conn.SucceededAt)
		f, errF := time.Parse(time.RFC3339, *conn.FailedAt)
		if errS == nil && errF == nil && s.After(f) {
			return SyncSucceeded
		}
		return SyncFailed
	case failed:
		return SyncFailed
	case succeeded:
		return SyncSucceeded
	default:
		return SyncOutcomeNone
	}
}

// pause sleeps one interval unless the attempt or time budget is spent.
func (p *Poller) pause(ctx context.Context, opts WaitOptions, attempt int, start time.Time) error {
	if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
		return ErrWaitTimeout
	}
	d := opts.interval()
	if opts.Timeout > 0 {
		remaining := opts.Timeout - p.now().Sub(start)
		if remaining <= 0 {
			return ErrWaitTimeout
		}
		if d > remaining {
			d = remaining
		}
	}
	return p.sleep(ctx, d)
}

func (p *Poller) wrapStop(phase Phase, connectorID string, attempt int, start time.Time, state string, err error) error {
	if err == ErrWaitTimeout {
		return p.waitError(phase, connectorID, attempt, start, state, err)
	}
	return fmt.Errorf("%s interrupted for connector %s: %w", phase, connectorID, err)
}

func (p *Poller) waitError(phase Phase, connectorID string, attempt int, start time.Time, state string, err error) *WaitError {
	return &WaitError{
		Phase:       phase,
		ConnectorID: connectorID,
		Attempts:    attempt,
		Elapsed:     p.now().Sub(start),
		LastState:   state,
		Err:         err,
	}
}

func (p *Poller) observe(phase Phase, eventType, connectorID, state string, attempt int) {
	p.metrics.RecordPoll(string(phase), state)
	if err := p.events.PublishPoll(p.runID, eventType, connectorID, state, attempt); err != nil {
		p.logger.Debug().Err(err).Msg("Dropped poll event")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
