package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated     = "booking_created"
	EventBookingRescheduled = "booking_rescheduled"
	EventBookingCancelled   = "booking_cancelled"
	EventRoomCreated        = "room_created"
	EventRoomUpdated        = "room_updated"
	EventRoomDeleted        = "room_deleted"
	EventUserStatusChanged  = "user_status_changed"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID string    `json:"booking_id"`
	RoomID    string    `json:"room_id"`
	RoomName  string    `json:"room_name,omitempty"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	ChangedBy string    `json:"changed_by,omitempty"`
}

func (p BookingEventPayload) EventKey() string { return p.BookingID }

type RoomEventPayload struct {
	RoomID    string `json:"room_id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	ChangedBy string `json:"changed_by,omitempty"`
}

func (p RoomEventPayload) EventKey() string { return p.RoomID }

type UserEventPayload struct {
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	ChangedBy string `json:"changed_by,omitempty"`
}

func (p UserEventPayload) EventKey() string { return p.UserID }

// Keyed payloads choose the partition key of forwarded events.
type Keyed interface {
	EventKey() string
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs the handlers synchronously and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	event := Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}
	if k, ok := payload.(Keyed); ok {
		event.Key = k.EventKey()
	}
	return event, nil
}
