// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for cortexface
const (
	// Connection events
	EventTypeConnected    EventType = "connection.connected"
	EventTypeDisconnected EventType = "connection.disconnected"
	EventTypeError        EventType = "connection.error"

	// Device state events
	EventTypeIdle             EventType = "device.idle"
	EventTypeListeningStarted EventType = "audio.listening_started"
	EventTypeListeningStopped EventType = "audio.listening_stopped"
	EventTypeSpeakingStarted  EventType = "audio.speaking_started"
	EventTypeSpeakingStopped  EventType = "audio.speaking_stopped"

	// Text events
	EventTypeSentence   EventType = "tts.sentence"
	EventTypeTranscript EventType = "stt.result"

	// Avatar events
	EventTypeAvatarStateChanged EventType = "avatar.state_changed"
	EventTypeEmotionChanged     EventType = "avatar.emotion_changed"

	// Asset events
	EventTypeAssetChanged EventType = "assets.changed"
)

// Data keys shared by publishers and subscribers
const (
	KeyText      = "text"
	KeyEmotion   = "emotion"
	KeySessionID = "session_id"
	KeyError     = "error"
	KeyReason    = "reason"
	KeyState     = "state"
	KeyResource  = "resource"
	KeyRemoved   = "removed"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// String returns Data[key] when it is a string
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Bool returns a bool field, false if absent
func (e Event) Bool(key string) bool {
	v, _ := e.Data[key].(bool)
	return v
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish runs every handler for the event on the caller's goroutine, in
// subscription order. Events from one publisher reach handlers in the
// order they were published.
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		handler(event)
	}
}

// PublishAsync calls each handler in its own goroutine. No ordering is
// guaranteed between events.
func (b *EventBus) PublishAsync(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	return handlers
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
