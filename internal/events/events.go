package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated      = "booking_created"
	EventBookingConfirmed    = "booking_confirmed"
	EventBookingCancelled    = "booking_cancelled"
	EventBookingExpired      = "booking_expired"
	EventBookingCheckedIn    = "booking_checked_in"
	EventBookingCompleted    = "booking_completed"
	EventBookingExpiringSoon = "booking_expiring_soon"
	EventBookingLateCheckIn  = "booking_late_checkin"
	EventWalletDeposit       = "wallet_deposit"
	EventGroupCreated        = "group_created"
	EventGroupCancelled      = "group_cancelled"
	EventGroupExpired        = "group_expired"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID    int64     `json:"booking_id"`
	Code         string    `json:"code"`
	CourtID      int64     `json:"court_id"`
	UserID       int64     `json:"user_id,omitempty"`
	GuestName    string    `json:"guest_name,omitempty"`
	Status       string    `json:"status"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TotalPrice   int64     `json:"total_price"`
	RefundAmount int64     `json:"refund_amount,omitempty"`
	Source       string    `json:"source,omitempty"`
}

// WalletEventPayload describes a balance change.
type WalletEventPayload struct {
	UserID       int64  `json:"user_id"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
}

// GroupEventPayload describes a booking series change.
type GroupEventPayload struct {
	GroupID        int64  `json:"group_id"`
	UserID         int64  `json:"user_id"`
	CourtID        int64  `json:"court_id"`
	Status         string `json:"status"`
	Sessions       int    `json:"sessions"`
	CancelledCount int    `json:"cancelled_count,omitempty"`
	RefundAmount   int64  `json:"refund_amount,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     func(event *Event, err error)
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError registers a callback for handler failures.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, eventType := range eventTypes {
		b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously and must not block.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// Decode unmarshals the event payload.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}
