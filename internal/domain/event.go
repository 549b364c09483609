package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventNewOrder      EventKind = "NEW_ORDER"
	EventStatusChanged EventKind = "STATUS_UPDATE"
)

// Event is emitted after an order mutation has been persisted.
// Order is a snapshot of the record as written.
type Event struct {
	ID         uuid.UUID
	Kind       EventKind
	Order      Order
	PrevStatus OrderStatus
	OccurredAt time.Time
}

func NewOrderEvent(o Order) Event {
	return Event{ID: uuid.New(), Kind: EventNewOrder, Order: o, OccurredAt: time.Now().UTC()}
}

func StatusChangedEvent(o Order, prev OrderStatus) Event {
	return Event{ID: uuid.New(), Kind: EventStatusChanged, Order: o, PrevStatus: prev, OccurredAt: time.Now().UTC()}
}

type newOrderWire struct {
	Type  EventKind `json:"type"`
	Order Order     `json:"order"`
}

type statusWire struct {
	Type        EventKind   `json:"type"`
	OrderID     uuid.UUID   `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	NewStatus   OrderStatus `json:"newStatus"`
	AcceptedAt  *time.Time  `json:"acceptedAt,omitempty"`
}

// MarshalJSON gives every real-time channel the same payload shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventNewOrder:
		return json.Marshal(newOrderWire{Type: e.Kind, Order: e.Order})
	default:
		return json.Marshal(statusWire{
			Type:        e.Kind,
			OrderID:     e.Order.ID,
			OrderNumber: e.Order.OrderNumber,
			NewStatus:   e.Order.Status,
			AcceptedAt:  e.Order.AcceptedAt,
		})
	}
}

// SSEName is the event name used on the server-sent events stream.
func (e Event) SSEName() string {
	if e.Kind == EventNewOrder {
		return "newOrder"
	}
	return "orderStatusUpdate"
}
