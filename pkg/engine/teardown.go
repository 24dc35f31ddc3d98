package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/telemetry"
)

// Teardown deletes every connector under the group, then the destination,
// then the group. Resources that are already gone count as deleted. In
// fail-fast mode the first failed deletion stops the teardown; in
// best-effort mode every deletion is attempted and the failures are joined.
func (o *Orchestrator) Teardown(ctx context.Context, p Provisioned) error {
	if p.IsEmpty() {
		return nil
	}

	start := o.now()
	ctx, span := o.tracer.StartPhaseSpan(ctx, string(PhaseTeardown))

	td := &teardown{o: o, logger: o.logger.With().Str("group_id", p.GroupID).Logger()}
	err := td.run(ctx, p)

	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordPhase(string(PhaseTeardown), status, o.now().Sub(start))
	telemetry.EndSpan(span, err)

	level := telemetry.EventLevelInfo
	if err != nil {
		level = telemetry.EventLevelError
	}
	o.publish(td.logger, o.events.Publish(telemetry.Event{
		Type:         telemetry.EventTypeTeardownComplete,
		ResourceKind: string(ResourceGroup),
		ResourceID:   p.GroupID,
		Message:      fmt.Sprintf("Deleted %d resources", td.deleted),
		Level:        level,
	}))

	if err != nil {
		return &PhaseError{Phase: PhaseTeardown, Err: err}
	}
	td.logger.Info().Int("deleted", td.deleted).Msg("Teardown completed")
	return nil
}

type teardown struct {
	o       *Orchestrator
	logger  zerolog.Logger
	errs    []error
	deleted int
}

func (t *teardown) run(ctx context.Context, p Provisioned) error {
	connectorIDs, err := t.connectors(ctx, p)
	if err != nil {
		if ferr := t.fail(err); ferr != nil {
			return ferr
		}
	}
	for _, id := range connectorIDs {
		if err := t.delete(ctx, ResourceConnector, id, t.o.platform.DeleteConnector); err != nil {
			return err
		}
	}
	if p.DestinationID != "" {
		if err := t.delete(ctx, ResourceDestination, p.DestinationID, t.o.platform.DeleteDestination); err != nil {
			return err
		}
	}
	if p.GroupID != "" {
		if err := t.delete(ctx, ResourceGroup, p.GroupID, t.o.platform.DeleteGroup); err != nil {
			return err
		}
	}
	return errors.Join(t.errs...)
}

// connectors lists the connectors to delete. The group listing is
// authoritative; the provisioned connector is used when there is no group
// or the group is already gone.
func (t *teardown) connectors(ctx context.Context, p Provisioned) ([]string, error) {
	var fallback []string
	if p.ConnectorID != "" {
		fallback = []string{p.ConnectorID}
	}
	if p.GroupID == "" {
		return fallback, nil
	}

	list, err := t.o.platform.ListGroupConnectors(ctx, p.GroupID)
	if fivetran.IsNotFound(err) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to list connectors of group %s: %w", p.GroupID, err)
	}

	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (t *teardown) fail(err error) error {
	if t.o.opts.TeardownMode == ModeBestEffort {
		t.logger.Warn().Err(err).Msg("Teardown step failed, continuing")
		t.errs = append(t.errs, err)
		return nil
	}
	return err
}

func (t *teardown) delete(ctx context.Context, kind ResourceKind, id string, del func(context.Context, string) error) error {
	if err := fivetran.IgnoreNotFound(del(ctx, id)); err != nil {
		return t.fail(fmt.Errorf("failed to delete %s %s: %w", kind, id, err))
	}
	t.deleted++
	t.logger.Info().Str("kind", string(kind)).Str("id", id).Msg("Deleted resource")
	if err := t.o.recorder.ResourceDeleted(ctx, kind, id); err != nil {
		t.logger.Warn().Err(err).Str("kind", string(kind)).Str("id", id).Msg("Failed to record deletion")
	}
	t.o.publish(t.logger, t.o.events.PublishResourceDeleted("", string(kind), id))
	return nil
}
