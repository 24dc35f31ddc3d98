package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/schemafilter"
	"github.com/openfroyo/syncprobe/pkg/telemetry"
)

// Options tunes a validation run.
type Options struct {
	SetupWait WaitOptions
	SyncWait  WaitOptions

	// SchemaChangeHandling is submitted with the schema update.
	// Empty means BLOCK_ALL.
	SchemaChangeHandling fivetran.SchemaChangeHandling

	// TeardownMode selects how Teardown reacts to a failed deletion.
	// Empty means fail-fast.
	TeardownMode Mode
}

// RunRequest describes one validation run.
type RunRequest struct {
	// RunID identifies the run in the ledger. Empty generates one.
	RunID string

	// GroupName overrides the generated group name.
	GroupName string

	Destination DestinationSpec
	Source      SourceSpec
}

// Provisioned holds the ids of the resources a run created.
type Provisioned struct {
	GroupID       string `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	DestinationID string `json:"destination_id,omitempty" yaml:"destination_id,omitempty"`
	ConnectorID   string `json:"connector_id,omitempty" yaml:"connector_id,omitempty"`
}

// IsEmpty reports whether nothing was provisioned.
func (p Provisioned) IsEmpty() bool {
	return p.GroupID == "" && p.DestinationID == "" && p.ConnectorID == ""
}

// RunResult is the report of a validation run. Provisioned is filled as
// resources are created, so a failed run can still be torn down.
type RunResult struct {
	RunID        string                   `json:"run_id" yaml:"run_id"`
	GroupName    string                   `json:"group_name" yaml:"group_name"`
	Status       RunStatus                `json:"status" yaml:"status"`
	FailedPhase  Phase                    `json:"failed_phase,omitempty" yaml:"failed_phase,omitempty"`
	Error        string                   `json:"error,omitempty" yaml:"error,omitempty"`
	Provisioned  Provisioned              `json:"provisioned" yaml:"provisioned"`
	Exclusions   []schemafilter.Exclusion `json:"exclusions,omitempty" yaml:"exclusions,omitempty"`
	Changes      []schemafilter.Change    `json:"changes,omitempty" yaml:"changes,omitempty"`
	Summary      schemafilter.Summary     `json:"summary" yaml:"summary"`
	Sync         *SyncResult              `json:"sync,omitempty" yaml:"sync,omitempty"`
	Verification *VerifyReport            `json:"verification,omitempty" yaml:"verification,omitempty"`
	StartedAt    time.Time                `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time                `json:"finished_at" yaml:"finished_at"`
}

// Succeeded reports whether the run ended in RunStatusSucceeded.
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == RunStatusSucceeded
}

// Orchestrator sequences one validation run against the platform.
type Orchestrator struct {
	platform   Platform
	opts       Options
	exclusions ExclusionSource
	recorder   Recorder
	verifier   Verifier
	logger     zerolog.Logger
	tracer     *telemetry.Tracer
	metrics    *telemetry.Metrics
	events     *telemetry.EventPublisher
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithExclusions sets the source of excluded columns.
func WithExclusions(src ExclusionSource) OrchestratorOption {
	return func(o *Orchestrator) {
		if src != nil {
			o.exclusions = src
		}
	}
}

// WithRecorder records the run in a ledger.
func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithVerifier checks the destination after a successful sync.
func WithVerifier(v Verifier) OrchestratorOption {
	return func(o *Orchestrator) {
		o.verifier = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithTelemetry wires tracing, metrics and events. Any of them may be nil.
func WithTelemetry(tracer *telemetry.Tracer, metrics *telemetry.Metrics, events *telemetry.EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tracer = tracer
		o.metrics = metrics
		o.events = events
	}
}

// WithClock overrides the time source used for group names and durations.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(platform Platform, opts Options, options ...OrchestratorOption) *Orchestrator {
	if opts.SchemaChangeHandling == "" {
		opts.SchemaChangeHandling = fivetran.SchemaChangeBlockAll
	}
	if opts.TeardownMode == "" {
		opts.TeardownMode = ModeFailFast
	}
	o := &Orchestrator{
		platform:   platform,
		opts:       opts,
		exclusions: StaticExclusions{},
		recorder:   nopRecorder{},
		logger:     zerolog.Nop(),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Run provisions a group, a destination and a connector, waits for the
// connector setup, filters and submits its schema, then runs a historical
// sync to completion. A failed sync or a failed verification sets
// RunStatusFailed without returning an error. Run never tears down; pass
// the returned Provisioned to Teardown.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	res := &RunResult{
		RunID:     req.RunID,
		GroupName: req.GroupName,
		Status:    RunStatusRunning,
		StartedAt: o.now().UTC(),
	}
	if res.RunID == "" {
		res.RunID = uuid.New().String()
	}
	if res.GroupName == "" {
		res.GroupName = GroupName(res.StartedAt)
	}

	logger := o.logger.With().Str("run_id", res.RunID).Logger()
	ctx, span := o.tracer.StartRunSpan(ctx, res.RunID)

	o.metrics.RecordRunStarted()
	if err := o.recorder.RunStarted(ctx, res.RunID, res.GroupName); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run start")
	}
	o.publish(logger, o.events.PublishRunStarted(res.RunID, res.GroupName))
	logger.Info().Str("group_name", res.GroupName).Msg("Starting validation run")

	err := o.execute(ctx, logger, req, res)

	o.finish(ctx, logger, res, err)
	telemetry.EndSpan(span, err)
	return res, err
}

func (o *Orchestrator) execute(ctx context.Context, logger zerolog.Logger, req RunRequest, res *RunResult) error {
	var (
		connector  *fivetran.Connector
		discovered *fivetran.SchemaConfig
		update     *fivetran.SchemaUpdateRequest
	)

	err := o.phase(ctx, logger, PhaseProvision, func(ctx context.Context) error {
		var err error
		connector, err = o.provision(ctx, logger, req, res)
		return err
	})
	if err != nil {
		return err
	}

	poller := NewPoller(o.platform,
		WithPollerLogger(logger),
		WithPollerTelemetry(o.metrics, o.events, res.RunID),
	)
	poller.sleep = o.sleep
	poller.now = o.now

	err = o.phase(ctx, logger, PhaseSetupWait, func(ctx context.Context) error {
		_, err := poller.WaitForSetup(ctx, connector.ID, o.opts.SetupWait)
		return err
	})
	if err != nil {
		return err
	}

	err = o.phase(ctx, logger, PhaseSchemaReload, func(ctx context.Context) error {
		var err error
		discovered, err = o.platform.ReloadSchema(ctx, connector.ID)
		if err != nil {
			return fmt.Errorf("failed to reload schema: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = o.phase(ctx, logger, PhaseSchemaFilter, func(ctx context.Context) error {
		excl, err := o.exclusions.Exclusions(ctx, discovered)
		if err != nil {
			return fmt.Errorf("failed to evaluate exclusions: %w", err)
		}
		update = schemafilter.BuildRequest(discovered, excl, o.opts.SchemaChangeHandling)
		res.Exclusions = excl.List()
		res.Changes = schemafilter.Diff(discovered, update.Schemas)
		res.Summary = schemafilter.Summarize(update.Schemas)

		logger.Info().Int("exclusions", excl.Len()).Int("disabled_columns", res.Summary.DisabledColumns).
			Int("changes", len(res.Changes)).Msg("Filtered schema")
		o.publish(logger, o.events.Publish(telemetry.Event{
			Type:         telemetry.EventTypeSchemaFiltered,
			RunID:        res.RunID,
			ResourceKind: string(ResourceConnector),
			ResourceID:   connector.ID,
			Message:      fmt.Sprintf("Disabled %d columns", res.Summary.DisabledColumns),
			Data: map[string]interface{}{
				"changes": len(res.Changes),
				"columns": res.Summary.Columns,
			},
		}))
		return nil
	})
	if err != nil {
		return err
	}

	err = o.phase(ctx, logger, PhaseSchemaUpdate, func(ctx context.Context) error {
		if _, err := o.platform.UpdateSchema(ctx, connector.ID, update); err != nil {
			return fmt.Errorf("failed to update schema: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = o.phase(ctx, logger, PhaseSyncWait, func(ctx context.Context) error {
		var err error
		res.Sync, err = poller.RunHistoricalSync(ctx, connector.ID, o.opts.SyncWait)
		return err
	})
	if err != nil {
		return err
	}
	o.publish(logger, o.events.Publish(telemetry.Event{
		Type:         telemetry.EventTypeSyncFinished,
		RunID:        res.RunID,
		ResourceKind: string(ResourceConnector),
		ResourceID:   connector.ID,
		Message:      "Historical sync " + string(res.Sync.Outcome),
		Level:        outcomeLevel(res.Sync.Outcome == SyncSucceeded),
	}))

	if res.Sync.Outcome != SyncSucceeded {
		logger.Error().Str("connector_id", connector.ID).Str("failed_at", res.Sync.FailedAt).Msg("Historical sync failed")
		return nil
	}

	if o.verifier == nil {
		return nil
	}
	return o.phase(ctx, logger, PhaseVerify, func(ctx context.Context) error {
		report, err := o.verifier.Verify(ctx, VerifyRequest{
			SchemaPrefix: req.Source.SchemaPrefix,
			Update:       update.Schemas,
		})
		if err != nil {
			return fmt.Errorf("failed to verify destination: %w", err)
		}
		res.Verification = report
		o.publish(logger, o.events.Publish(telemetry.Event{
			Type:    telemetry.EventTypeVerifyCompleted,
			RunID:   res.RunID,
			Message: fmt.Sprintf("Checked %d tables, %d problems", report.Checked, len(report.Problems)),
			Level:   outcomeLevel(report.Passed),
		}))
		if !report.Passed {
			for _, p := range report.Problems {
				logger.Error().Str("problem", p).Msg("Destination verification mismatch")
			}
		}
		return nil
	})
}

func (o *Orchestrator) provision(ctx context.Context, logger zerolog.Logger, req RunRequest, res *RunResult) (*fivetran.Connector, error) {
	group, err := o.platform.CreateGroup(ctx, res.GroupName)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	res.Provisioned.GroupID = group.ID
	o.created(ctx, logger, res.RunID, ResourceGroup, group.ID)

	dest, err := o.platform.CreateDestination(ctx, NewDestinationRequest(group.ID, req.Destination))
	if err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	res.Provisioned.DestinationID = dest.ID
	o.created(ctx, logger, res.RunID, ResourceDestination, dest.ID)

	conn, err := o.platform.CreateConnector(ctx, NewConnectorRequest(group.ID, req.Source))
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	res.Provisioned.ConnectorID = conn.ID
	o.created(ctx, logger, res.RunID, ResourceConnector, conn.ID)

	return conn, nil
}

func (o *Orchestrator) created(ctx context.Context, logger zerolog.Logger, runID string, kind ResourceKind, id string) {
	logger.Info().Str("kind", string(kind)).Str("id", id).Msg("Created resource")
	if err := o.recorder.ResourceCreated(ctx, runID, kind, id); err != nil {
		logger.Warn().Err(err).Str("kind", string(kind)).Str("id", id).Msg("Failed to record resource")
	}
	o.publish(logger, o.events.PublishResourceCreated(runID, string(kind), id))
}

// phase runs fn inside a span and records its duration. Errors come back
// as *PhaseError.
func (o *Orchestrator) phase(ctx context.Context, logger zerolog.Logger, name Phase, fn func(context.Context) error) error {
	start := o.now()
	ctx, span := o.tracer.StartPhaseSpan(ctx, string(name))

	err := fn(ctx)

	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordPhase(string(name), status, o.now().Sub(start))
	telemetry.EndSpan(span, err)

	if err != nil {
		logger.Error().Err(err).Str("phase", string(name)).Msg("Run phase failed")
		return &PhaseError{Phase: name, Err: err}
	}
	logger.Debug().Str("phase", string(name)).Dur("duration", o.now().Sub(start)).Msg("Run phase completed")
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, logger zerolog.Logger, res *RunResult, err error) {
	res.FinishedAt = o.now().UTC()
	duration := res.FinishedAt.Sub(res.StartedAt)

	outcome := SyncOutcomeNone
	if res.Sync != nil {
		outcome = res.Sync.Outcome
	}

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		res.Status = RunStatusCancelled
	case err != nil:
		res.Status = RunStatusFailed
	case outcome != SyncSucceeded:
		res.Status = RunStatusFailed
	case res.Verification != nil && !res.Verification.Passed:
		res.Status = RunStatusFailed
	default:
		res.Status = RunStatusSucceeded
	}
	if err != nil {
		res.FailedPhase = FailedPhase(err)
		res.Error = err.Error()
	}

	// The run context may already be cancelled; the ledger write must
	// still happen.
	recordCtx := context.WithoutCancel(ctx)
	if rerr := o.recorder.RunFinished(recordCtx, res.RunID, res.Status, outcome, err); rerr != nil {
		logger.Warn().Err(rerr).Msg("Failed to record run result")
	}
	o.metrics.RecordRunCompleted(string(res.Status), string(outcome), duration)

	if res.Status == RunStatusSucceeded {
		o.publish(logger, o.events.PublishRunCompleted(res.RunID, string(outcome), duration))
		logger.Info().Dur("duration", duration).Msg("Validation run succeeded")
		return
	}

	reason := res.Error
	if reason == "" {
		reason = "sync outcome " + string(outcome)
		if res.Verification != nil && !res.Verification.Passed {
			reason = "destination verification failed"
		}
	}
	o.publish(logger, o.events.PublishRunFailed(res.RunID, reason))
	logger.Error().Str("status", string(res.Status)).Str("reason", reason).Dur("duration", duration).
		Msg("Validation run did not succeed")
}

func (o *Orchestrator) publish(logger zerolog.Logger, err error) {
	if err != nil {
		logger.Debug().Err(err).Msg("Dropped run event")
	}
}

func outcomeLevel(ok bool) string {
	if ok {
		return telemetry.EventLevelInfo
	}
	return telemetry.EventLevelError
}
