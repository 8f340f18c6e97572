// Package event carries discovery and connection events from the core
// to whatever consumes them (the SSE hub, the registry, tests).
package event

// Type defines the type of event
type Type string

const (
	EventDeviceDiscovered   Type = "device_discovered"
	EventDiscoveryCompleted Type = "discovery_completed"
	EventDiscoveryFailed    Type = "discovery_failed"
	EventStateChanged       Type = "state_changed"
	EventRecognitionResult  Type = "recognition_result"
	EventConnectionError    Type = "connection_error"
	EventReconnectFailed    Type = "reconnect_failed"
)

// Event represents an event that occurred in the core
type Event struct {
	Type    Type        `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Bus allows publishing and subscribing to events. Multiple independent
// listeners each get their own channel; a slow listener is skipped
// rather than blocking the publisher.
type Bus struct {
	subscribers []chan<- Event
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events. Subscribers must be
// registered before the bus is handed to publishers.
func (b *Bus) Subscribe(ch chan<- Event) {
	b.subscribers = append(b.subscribers, ch)
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(event Event) {
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
