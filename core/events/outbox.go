package events

import (
	"context"
	"sync"
)

// Outbox queues events of one write until it commits.
type Outbox struct {
	mu     sync.Mutex
	events []Event
}

type outboxKey struct{}

// WithOutbox returns a context carrying ob.
func WithOutbox(ctx context.Context, ob *Outbox) context.Context {
	return context.WithValue(ctx, outboxKey{}, ob)
}

// OutboxFrom returns the outbox of ctx, or nil.
func OutboxFrom(ctx context.Context) *Outbox {
	ob, _ := ctx.Value(outboxKey{}).(*Outbox)
	return ob
}

// Add queues an event.
func (o *Outbox) Add(event Event) {
	o.mu.Lock()
	o.events = append(o.events, event)
	o.mu.Unlock()
}

// Len returns the number of queued events.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

// Flush publishes the queued events in order and empties the outbox.
func (o *Outbox) Flush(ctx context.Context, bus *Bus) {
	o.mu.Lock()
	queued := o.events
	o.events = nil
	o.mu.Unlock()

	for _, event := range queued {
		bus.Publish(ctx, event)
	}
}

// Discard drops the queued events.
func (o *Outbox) Discard() {
	o.mu.Lock()
	o.events = nil
	o.mu.Unlock()
}

// Emit queues the event in the outbox of ctx, or publishes it right away
// when ctx has none.
func Emit(ctx context.Context, bus *Bus, event Event) {
	if ob := OutboxFrom(ctx); ob != nil {
		ob.Add(event)
		return
	}
	bus.Publish(ctx, event)
}
