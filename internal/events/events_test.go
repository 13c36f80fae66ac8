package events

import (
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe(handler, EventBookingCreated)

	err := bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: 123, Code: "BK250610-ABCDEF"})
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != EventBookingCreated {
		t.Errorf("expected type %s, got %s", EventBookingCreated, received.Type)
	}

	if received.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded BookingEventPayload
	if err := received.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded.BookingID != 123 || decoded.Code != "BK250610-ABCDEF" {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusMultipleTypes(t *testing.T) {
	bus := NewEventBus()
	var count int

	bus.Subscribe(func(_ *Event) error { count++; return nil }, EventBookingExpired, EventBookingCancelled)

	bus.Publish(&Event{Type: EventBookingExpired})
	bus.Publish(&Event{Type: EventBookingCancelled})
	bus.Publish(&Event{Type: EventBookingCreated})

	if count != 2 {
		t.Errorf("expected 2 calls, got %d", count)
	}
}

func TestEventBusHandlerError(t *testing.T) {
	bus := NewEventBus()
	var reported error
	var secondCalled bool

	bus.OnError(func(_ *Event, err error) { reported = err })
	bus.Subscribe(func(_ *Event) error { return errors.New("boom") }, "event")
	bus.Subscribe(func(_ *Event) error { secondCalled = true; return nil }, "event")

	bus.Publish(&Event{Type: "event"})

	if reported == nil || reported.Error() != "boom" {
		t.Errorf("expected handler error to be reported, got %v", reported)
	}
	if !secondCalled {
		t.Errorf("expected remaining handlers to run after a failure")
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	var nilBus *EventBus
	if err := nilBus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("nil bus PublishJSON failed: %v", err)
	}
}
