package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a timeline entry of a validation run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// ResourceKind is "group", "destination" or "connector" for resource events.
	ResourceKind string `json:"resource_kind,omitempty"`

	// ResourceID is the platform id of the resource, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for run timeline events.
const (
	EventTypeRunStarted       = "run.started"
	EventTypeRunCompleted     = "run.completed"
	EventTypeRunFailed        = "run.failed"
	EventTypeResourceCreated  = "resource.created"
	EventTypeResourceDeleted  = "resource.deleted"
	EventTypeSetupPolled      = "setup.polled"
	EventTypeSetupConnected   = "setup.connected"
	EventTypeSchemaFiltered   = "schema.filtered"
	EventTypeSyncStarted      = "sync.started"
	EventTypeSyncPolled       = "sync.polled"
	EventTypeSyncFinished     = "sync.finished"
	EventTypeSweepCompleted   = "sweep.completed"
	EventTypeVerifyCompleted  = "verify.completed"
	EventTypeTeardownComplete = "teardown.completed"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrPublisherClosed is returned by Publish after Shutdown.
var ErrPublisherClosed = errors.New("event publisher is shut down")

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers in publish order from a
// single delivery goroutine. A nil or disabled publisher drops everything.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex

	// sendMu guards closed and every send on buffer.
	sendMu sync.Mutex
	closed bool
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
	}

	ep.wg.Add(1)
	go ep.processEvents()

	return ep, nil
}

// Publish queues an event for delivery. It fails instead of blocking when
// the buffer is full.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.sendMu.Lock()
	defer ep.sendMu.Unlock()

	if ep.closed {
		return ErrPublisherClosed
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s event", event.Type)
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, groupName string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("Run started with group %s", groupName),
		Data:    map[string]interface{}{"group_name": groupName},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, outcome string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("Run completed with sync outcome %s", outcome),
		Data: map[string]interface{}{
			"outcome":  outcome,
			"duration": duration.String(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		RunID:   runID,
		Level:   EventLevelError,
		Message: reason,
	})
}

// PublishResourceCreated publishes a resource created event.
func (ep *EventPublisher) PublishResourceCreated(runID, kind, id string) error {
	return ep.Publish(Event{
		Type:         EventTypeResourceCreated,
		RunID:        runID,
		ResourceKind: kind,
		ResourceID:   id,
		Message:      fmt.Sprintf("Created %s %s", kind, id),
	})
}

// PublishResourceDeleted publishes a resource deleted event.
func (ep *EventPublisher) PublishResourceDeleted(runID, kind, id string) error {
	return ep.Publish(Event{
		Type:         EventTypeResourceDeleted,
		RunID:        runID,
		ResourceKind: kind,
		ResourceID:   id,
		Message:      fmt.Sprintf("Deleted %s %s", kind, id),
	})
}

// PublishPoll publishes the state observed by one status poll.
func (ep *EventPublisher) PublishPoll(runID, eventType, connectorID, state string, attempt int) error {
	return ep.Publish(Event{
		Type:         eventType,
		RunID:        runID,
		ResourceKind: "connector",
		ResourceID:   connectorID,
		Message:      fmt.Sprintf("Poll %d observed %s", attempt, state),
		Data: map[string]interface{}{
			"state":   state,
			"attempt": attempt,
		},
	})
}

// Subscribe registers a subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers buffered events until the buffer is closed.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for event := range ep.buffer {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits until queued events are delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.sendMu.Lock()
	if !ep.closed {
		ep.closed = true
		close(ep.buffer)
	}
	ep.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
