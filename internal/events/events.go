// Package events defines the domain events emitted by the order lifecycle.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an event. It doubles as the routing key on the broker.
type Type string

const (
	OrderCreated       Type = "order.created"
	OrderStatusChanged Type = "order.status_changed"
	PaymentSucceeded   Type = "payment.succeeded"
	PaymentFailed      Type = "payment.failed"
	// PaymentRefundRequired reports money captured for an order that can no
	// longer be fulfilled, e.g. one cancelled before the capture landed.
	PaymentRefundRequired Type = "payment.refund_required"
)

// Event is a fact about an order.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	ShopID     string    `json:"shop_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New creates an event of type t for orderID with a fresh id.
func New(t Type, orderID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

var _ Publisher = Nop{}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
