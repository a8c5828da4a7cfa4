package event

import (
	"encoding/json"
	"time"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "application.started")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event types published on the bus
const (
	TypeApplicationStarted = "application.started"
	TypeApplicationClosed  = "application.closed"
	TypeApplicationEvent   = "application.event"
	TypeStateChanged       = "lifecycle.state_changed"
	TypeAssetChanged       = "asset.changed"
)

// -----------------------------------------------------------------------------
// Application Events
// -----------------------------------------------------------------------------

// ApplicationEvent is a lifecycle notification pushed by the container for
// one application. Name is the container's own event name ("started",
// "closed", ...).
type ApplicationEvent struct {
	baseEvent
	UUID    string
	Name    string
	Payload json.RawMessage
}

// ApplicationEventType returns the bus event type for a container event
// name. The well-known names "started" and "closed" map to their own event
// types; anything else is published as "application.event".
func ApplicationEventType(name string) string {
	switch name {
	case "started":
		return TypeApplicationStarted
	case "closed":
		return TypeApplicationClosed
	default:
		return TypeApplicationEvent
	}
}

// NewApplicationEvent creates an ApplicationEvent.
func NewApplicationEvent(uuid, name string, payload json.RawMessage) ApplicationEvent {
	return ApplicationEvent{
		baseEvent: newBaseEvent(ApplicationEventType(name)),
		UUID:      uuid,
		Name:      name,
		Payload:   payload,
	}
}

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// StateChangedEvent is emitted when a lifecycle tracker changes state.
type StateChangedEvent struct {
	baseEvent
	UUID  string
	From  string
	To    string
	Cause string // "start", "stop", "event:started", "query:running", ...
}

// NewStateChangedEvent creates a StateChangedEvent.
func NewStateChangedEvent(uuid, from, to, cause string) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: newBaseEvent(TypeStateChanged),
		UUID:      uuid,
		From:      from,
		To:        to,
		Cause:     cause,
	}
}

// -----------------------------------------------------------------------------
// Asset Events
// -----------------------------------------------------------------------------

// AssetChangedEvent is emitted when a file under the asset root changes.
type AssetChangedEvent struct {
	baseEvent
	Path string
	Op   string
}

// NewAssetChangedEvent creates an AssetChangedEvent.
func NewAssetChangedEvent(path, op string) AssetChangedEvent {
	return AssetChangedEvent{
		baseEvent: newBaseEvent(TypeAssetChanged),
		Path:      path,
		Op:        op,
	}
}
