// Package events provides typed event emission for cross-component diagnostics.
// Consumers of market data still read pull-based snapshots; the bus exists for
// logging and loose coupling, not for per-symbol delivery.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	StreamStatusChanged EventType = "STREAM_STATUS_CHANGED"
	QuotesRefreshed     EventType = "QUOTES_REFRESHED"
	CorrectionApplied   EventType = "CORRECTION_APPLIED"
	SessionCleared      EventType = "SESSION_CLEARED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

// Handler receives emitted events. Handlers must not block.
type Handler func(Event)

// Bus handles event emission, logging and fan-out to subscribers.
type Bus struct {
	log      zerolog.Logger
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:      log.With().Str("component", "events").Logger(),
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Emit emits an event to all handlers registered for its type.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		Interface("data", data).
		Msg("Event emitted")

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// EmitError emits an error event
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	b.Emit(ErrorOccurred, module, data)
}
