package stores

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/telemetry"
)

// EventSink returns a subscriber that appends published events to the
// ledger. Failed writes are logged and dropped.
func (s *SQLiteStore) EventSink(ctx context.Context, logger zerolog.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		event, err := FromTelemetryEvent(e)
		if err != nil {
			logger.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to encode event")
			return
		}
		if err := s.AppendEvent(ctx, event); err != nil {
			logger.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to store event")
		}
	}
}

// FromTelemetryEvent converts a published event to its ledger row.
func FromTelemetryEvent(e telemetry.Event) (*Event, error) {
	event := &Event{
		ID:           e.ID,
		RunID:        optional(e.RunID),
		Type:         e.Type,
		ResourceKind: optional(e.ResourceKind),
		ResourceID:   optional(e.ResourceID),
		Level:        EventLevel(e.Level),
		Message:      e.Message,
		Timestamp:    e.Timestamp.UTC(),
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}
	if len(e.Data) > 0 {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		details := string(data)
		event.Details = &details
	}
	return event, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
