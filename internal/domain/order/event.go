package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/status"
)

// Event types.
const (
	EventOrderPlaced    = "order.placed"
	EventStatusChanged  = "order.status_changed"
	EventPaymentUpdated = "order.payment_updated"
)

// Event is a notification about an order.
type Event struct {
	Type           string
	OrderID        string
	TrackingNumber string
	Status         status.Status
	PaymentStatus  PaymentStatus
	Total          decimal.Decimal
	CouponCode     string
	At             time.Time
}

// Publisher delivers order events. Delivery is best effort: the service logs
// publish errors and carries on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
