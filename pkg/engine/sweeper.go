package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/telemetry"
)

// DefaultMaxAge is the age past which the sweeper deletes a resource.
const DefaultMaxAge = 15 * time.Minute

// IsOld reports whether a resource created at createdAt is at least maxAge
// old at now. A timestamp that does not parse as RFC 3339 counts as old.
func IsOld(createdAt string, now time.Time, maxAge time.Duration) bool {
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return true
	}
	return now.Sub(created) >= maxAge
}

// SweptResource is one resource the sweeper deleted.
type SweptResource struct {
	Kind      ResourceKind `json:"kind" yaml:"kind"`
	ID        string       `json:"id" yaml:"id"`
	CreatedAt string       `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Deleted  []SweptResource `json:"deleted" yaml:"deleted"`
	Kept     int             `json:"kept" yaml:"kept"`
	Failures []string        `json:"failures,omitempty" yaml:"failures,omitempty"`
	Elapsed  time.Duration   `json:"elapsed" yaml:"elapsed"`
}

// Count returns the number of deleted resources of kind.
func (r *SweepReport) Count(kind ResourceKind) int {
	n := 0
	for _, d := range r.Deleted {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Sweeper deletes resources left behind by earlier runs.
type Sweeper struct {
	platform SweepPlatform

	// MaxAge is the retention threshold. Zero uses DefaultMaxAge.
	MaxAge time.Duration

	// Mode selects fail-fast or best-effort deletion. Empty is fail-fast.
	Mode Mode

	// OrphanGroups also deletes old groups named like run groups that no
	// destination points to.
	OrphanGroups bool

	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
	recorder Recorder
	now      func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger zerolog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweeperTelemetry records swept resources as metrics and events.
func WithSweeperTelemetry(metrics *telemetry.Metrics, events *telemetry.EventPublisher) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = metrics
		s.events = events
	}
}

// WithSweeperRecorder marks swept resources deleted in the run ledger.
func WithSweeperRecorder(r Recorder) SweeperOption {
	return func(s *Sweeper) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithSweeperClock overrides the time source.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper creates a fail-fast sweeper with the default age threshold.
func NewSweeper(platform SweepPlatform, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		platform: platform,
		MaxAge:   DefaultMaxAge,
		Mode:     ModeFailFast,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sweepRun carries the state of one Sweep call.
type sweepRun struct {
	s      *Sweeper
	now    time.Time
	maxAge time.Duration
	report *SweepReport
	errs   []error
	// groups already deleted in this sweep
	gone map[string]bool
}

// Sweep deletes every old connector, then every destination whose owning
// group is old together with that group. In fail-fast mode the first
// failure ends the sweep; in best-effort mode all failures are joined.
// The report lists what was deleted either way.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	maxAge := s.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	run := &sweepRun{
		s:      s,
		now:    s.now(),
		maxAge: maxAge,
		report: &SweepReport{},
		gone:   make(map[string]bool),
	}

	s.logger.Info().Dur("max_age", maxAge).Str("mode", string(s.Mode)).Msg("Sweeping old resources")

	err := run.sweepConnectors(ctx)
	if err == nil {
		err = run.sweepDestinations(ctx)
	}
	if err == nil && s.OrphanGroups {
		err = run.sweepGroups(ctx)
	}
	if err == nil {
		err = errors.Join(run.errs...)
	}

	run.report.Elapsed = s.now().Sub(run.now)
	for _, e := range run.errs {
		run.report.Failures = append(run.report.Failures, e.Error())
	}
	if err != nil && len(run.report.Failures) == 0 {
		run.report.Failures = []string{err.Error()}
	}

	level := telemetry.EventLevelInfo
	if err != nil {
		level = telemetry.EventLevelError
	}
	if perr := s.events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeSweepCompleted,
		Message: fmt.Sprintf("Swept %d resources, kept %d", len(run.report.Deleted), run.report.Kept),
		Level:   level,
		Data: map[string]interface{}{
			"deleted": len(run.report.Deleted),
			"kept":    run.report.Kept,
		},
	}); perr != nil {
		s.logger.Debug().Err(perr).Msg("Dropped sweep event")
	}

	s.logger.Info().Int("deleted", len(run.report.Deleted)).Int("kept", run.report.Kept).
		Int("failures", len(run.report.Failures)).Msg("Sweep finished")
	return run.report, err
}

// fail records err. It returns err in fail-fast mode and nil otherwise.
func (r *sweepRun) fail(err error) error {
	if r.s.Mode == ModeBestEffort {
		r.s.logger.Warn().Err(err).Msg("Sweep step failed, continuing")
		r.errs = append(r.errs, err)
		return nil
	}
	return err
}

func (r *sweepRun) sweepConnectors(ctx context.Context) error {
	connectors, err := r.s.platform.ListConnectors(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("failed to list connectors: %w", err))
	}
	for _, c := range connectors {
		if !IsOld(c.CreatedAt, r.now, r.maxAge) {
			r.report.Kept++
			continue
		}
		if err := r.delete(ctx, ResourceConnector, c.ID, c.CreatedAt, r.s.platform.DeleteConnector); err != nil {
			return err
		}
	}
	return nil
}

func (r *sweepRun) sweepDestinations(ctx context.Context) error {
	destinations, err := r.s.platform.ListDestinations(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("failed to list destinations: %w", err))
	}
	for _, d := range destinations {
		group, err := r.s.platform.GetGroup(ctx, d.GroupID)
		if fivetran.IsNotFound(err) {
			// The group is already gone; the destination is unreachable.
			if err := r.delete(ctx, ResourceDestination, d.ID, "", r.s.platform.DeleteDestination); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if ferr := r.fail(fmt.Errorf("failed to get group %s of destination %s: %w", d.GroupID, d.ID, err)); ferr != nil {
				return ferr
			}
			continue
		}
		if !IsOld(group.CreatedAt, r.now, r.maxAge) {
			r.report.Kept++
			continue
		}
		if err := r.delete(ctx, ResourceDestination, d.ID, group.CreatedAt, r.s.platform.DeleteDestination); err != nil {
			return err
		}
		if r.gone[group.ID] {
			continue
		}
		if err := r.delete(ctx, ResourceGroup, group.ID, group.CreatedAt, r.s.platform.DeleteGroup); err != nil {
			return err
		}
	}
	return nil
}

func (r *sweepRun) sweepGroups(ctx context.Context) error {
	groups, err := r.s.platform.ListGroups(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("failed to list groups: %w", err))
	}
	for _, g := range groups {
		if r.gone[g.ID] || !IsRunGroupName(g.Name) {
			continue
		}
		if !IsOld(g.CreatedAt, r.now, r.maxAge) {
			r.report.Kept++
			continue
		}
		if err := r.delete(ctx, ResourceGroup, g.ID, g.CreatedAt, r.s.platform.DeleteGroup); err != nil {
			return err
		}
	}
	return nil
}

// delete removes one resource. A resource that is already gone counts as
// deleted.
func (r *sweepRun) delete(ctx context.Context, kind ResourceKind, id, createdAt string, del func(context.Context, string) error) error {
	if err := fivetran.IgnoreNotFound(del(ctx, id)); err != nil {
		return r.fail(fmt.Errorf("failed to delete %s %s: %w", kind, id, err))
	}
	if kind == ResourceGroup {
		r.gone[id] = true
	}

	r.report.Deleted = append(r.report.Deleted, SweptResource{Kind: kind, ID: id, CreatedAt: createdAt})
	r.s.metrics.RecordSweptResource(string(kind))
	if err := r.s.events.PublishResourceDeleted("", string(kind), id); err != nil {
		r.s.logger.Debug().Err(err).Msg("Dropped resource event")
	}
	if err := r.s.recorder.ResourceDeleted(ctx, kind, id); err != nil {
		r.s.logger.Warn().Err(err).Str("kind", string(kind)).Str("id", id).Msg("Failed to record swept resource")
	}
	r.s.logger.Info().Str("kind", string(kind)).Str("id", id).Str("created_at", createdAt).Msg("Deleted old resource")
	return nil
}
