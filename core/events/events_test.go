package events

import (
	"context"
	"errors"
	"testing"

	"github.com/artpar/entitysdk/core/changes"
	"github.com/rs/zerolog"
)

func collect(bus *Bus, pattern string) *[]string {
	var got []string
	bus.Subscribe(pattern, func(ctx context.Context, event Event) error {
		got = append(got, pattern+":"+event.Name)
		return nil
	})
	return &got
}

func TestPublish_Matching(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	exact := collect(bus, "invoice.created")
	entity := collect(bus, "invoice.*")
	all := collect(bus, "*")
	other := collect(bus, "order.*")

	bus.Publish(context.Background(), Event{Name: "invoice.created", Entity: "invoice", ID: "i1"})
	bus.Publish(context.Background(), Event{Name: "invoice.deleted", Entity: "invoice", ID: "i1"})

	if len(*exact) != 1 {
		t.Errorf("exact handler calls = %v, want 1", *exact)
	}
	if len(*entity) != 2 {
		t.Errorf("entity wildcard calls = %v, want 2", *entity)
	}
	if len(*all) != 2 {
		t.Errorf("global wildcard calls = %v, want 2", *all)
	}
	if len(*other) != 0 {
		t.Errorf("unrelated handler called: %v", *other)
	}
}

func TestPublish_Order(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var order []int
	for i := 1; i <= 3; i++ {
		n := i
		bus.Subscribe("invoice.updated", func(ctx context.Context, event Event) error {
			order = append(order, n)
			return nil
		})
	}

	bus.Publish(context.Background(), Event{Name: "invoice.updated"})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("handler order = %v, want [1 2 3]", order)
	}
}

func TestPublish_HandlerErrorContinues(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	called := false
	bus.Subscribe("invoice.created", func(ctx context.Context, event Event) error {
		return errors.New("handler failed")
	})
	bus.Subscribe("invoice.created", func(ctx context.Context, event Event) error {
		called = true
		return nil
	})

	bus.Publish(context.Background(), Event{Name: "invoice.created"})

	if !called {
		t.Error("second handler not called after first failed")
	}
}

func TestHasSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	if bus.HasSubscribers("invoice.created") {
		t.Error("HasSubscribers() = true on empty bus")
	}

	bus.Subscribe("invoice.*", func(ctx context.Context, event Event) error { return nil })

	if !bus.HasSubscribers("invoice.created") {
		t.Error("HasSubscribers() should match entity wildcard")
	}
	if bus.HasSubscribers("order.created") {
		t.Error("HasSubscribers() matched another entity")
	}
}

func TestOutbox(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	got := collect(bus, "*")

	ob := &Outbox{}
	ctx := WithOutbox(context.Background(), ob)

	Emit(ctx, bus, Event{Name: "invoice.created", ChangedValues: changes.Values{"total": {New: 10}}})
	Emit(ctx, bus, Event{Name: "invoice.paid"})

	if len(*got) != 0 {
		t.Fatalf("events published before flush: %v", *got)
	}
	if ob.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ob.Len())
	}

	ob.Flush(ctx, bus)
	if len(*got) != 2 || (*got)[0] != "*:invoice.created" || (*got)[1] != "*:invoice.paid" {
		t.Errorf("flushed = %v", *got)
	}
	if ob.Len() != 0 {
		t.Error("Flush() should empty the outbox")
	}

	Emit(ctx, bus, Event{Name: "invoice.deleted"})
	ob.Discard()
	ob.Flush(ctx, bus)
	if len(*got) != 2 {
		t.Errorf("discarded event published: %v", *got)
	}
}

func TestEmit_WithoutOutbox(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	got := collect(bus, "invoice.created")

	Emit(context.Background(), bus, Event{Name: "invoice.created"})

	if len(*got) != 1 {
		t.Errorf("Emit() without outbox should publish immediately, got %v", *got)
	}
}
