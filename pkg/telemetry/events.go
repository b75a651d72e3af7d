package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of a run's event stream. The stream is a side channel:
// the structured run result stays authoritative.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the run this event belongs to.
	RunID string `json:"runId,omitempty"`

	// AppID is the manifest app this event describes, if any.
	AppID string `json:"appId,omitempty"`

	// Status and Reason mirror the run item for item events.
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message,omitempty"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants.
const (
	EventTypeRunStarted   = "run.started"
	EventTypeRunCompleted = "run.completed"
	EventTypeItem         = "item"
	EventTypeDrift        = "drift"
	EventTypeStateWritten = "state.written"
	EventTypePolicy       = "policy.violation"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers synchronously, in publish
// order. A run is a single pass, so there is no buffering.
type EventPublisher struct {
	config      EventsConfig
	subscribers []subscriberEntry
	filters     []EventFilter
	mu          sync.RWMutex
	now         func() time.Time
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{
		config: cfg,
		now:    time.Now,
	}
}

// Publish delivers an event to all matching subscribers.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil || !ep.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = ep.now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, filter := range ep.filters {
		if !filter(event) {
			return
		}
	}

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, command, manifestPath string) {
	ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("%s started for %s", command, manifestPath),
		Data: map[string]interface{}{
			"command":      command,
			"manifestPath": manifestPath,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, command string, success bool, exitCode int, duration time.Duration) {
	level := EventLevelInfo
	if !success {
		level = EventLevelError
	}
	ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Level:   level,
		Message: fmt.Sprintf("%s completed with exit code %d", command, exitCode),
		Data: map[string]interface{}{
			"command":  command,
			"success":  success,
			"exitCode": exitCode,
			"duration": duration.Seconds(),
		},
	})
}

// PublishItem publishes the outcome of one app.
func (ep *EventPublisher) PublishItem(runID, appID, status, reason, message string) {
	level := EventLevelInfo
	switch status {
	case "failed":
		level = EventLevelError
	case "skipped":
		level = EventLevelWarning
	}
	ep.Publish(Event{
		Type:    EventTypeItem,
		RunID:   runID,
		AppID:   appID,
		Status:  status,
		Reason:  reason,
		Message: message,
		Level:   level,
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// JSONLinesSubscriber writes each event to w as one JSON object per line.
// Write errors are dropped; the event stream is best-effort.
func JSONLinesSubscriber(w io.Writer) EventSubscriber {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(event)
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
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
