// Package events publishes record events to in-process subscribers.
//
// Event names follow "<entity>.<verb>", e.g. "invoice.created". Writes
// queue their events in an Outbox that is flushed only after the session
// commits, so subscribers never observe rolled back records.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/artpar/entitysdk/core/changes"
	"github.com/rs/zerolog"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "invoice.created").
	Name string

	// Entity is the logical name of the record's entity.
	Entity string

	// Message is the mutation that caused the event.
	Message string

	// ID is the record id.
	ID string

	// Data is the record data written by the mutation.
	Data map[string]any

	// ChangedValues holds the attributes the mutation changed.
	ChangedValues changes.Values
}

// Handler processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event name. Wildcards:
//   - "invoice.created" - exact match
//   - "invoice.*" - all invoice events
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Publish calls every matching handler synchronously in subscription
// order. Handler errors are logged and do not stop delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	matched := b.matching(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("entity", event.Entity).
		Str("id", event.ID).
		Int("handlers", len(matched)).
		Msg("event published")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// HasSubscribers reports whether any handler matches the event name.
func (b *Bus) HasSubscribers(event string) bool {
	return len(b.matching(event)) > 0
}

func (b *Bus) matching(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	matched = append(matched, b.handlers[name]...)

	if prefix, _, ok := strings.Cut(name, "."); ok {
		matched = append(matched, b.handlers[prefix+".*"]...)
	}

	matched = append(matched, b.handlers["*"]...)
	return matched
}
