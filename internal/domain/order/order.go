// Package order assembles priced, trackable orders from cart snapshots.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
)

var (
	ErrEmptyCart               = errors.New("cart has no items")
	ErrCartNotFound            = errors.New("cart not found")
	ErrNotFound                = errors.New("order not found")
	ErrDuplicateTrackingNumber = errors.New("tracking number already in use")
	ErrTrackingNumberExhausted = errors.New("no unique tracking number after bounded attempts")
	ErrInvalidPayment          = errors.New("invalid payment signal")
	ErrPaymentAmountMismatch   = errors.New("payment amount does not match order total")
	ErrInvalidAddress          = errors.New("invalid shipping address")
)

// InvalidItemError reports a line item that cannot be priced.
type InvalidItemError struct {
	Index     int
	ProductID string
	Reason    string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %s", e.Index, e.ProductID, e.Reason)
}

// ConsistencyGapError reports an order persisted without its tracker.
type ConsistencyGapError struct {
	OrderID        string
	TrackingNumber string
	Err            error
}

func (e *ConsistencyGapError) Error() string {
	return fmt.Sprintf("order %s persisted without tracker %s: %v", e.OrderID, e.TrackingNumber, e.Err)
}

func (e *ConsistencyGapError) Unwrap() error { return e.Err }

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// ParsePaymentStatus parses a provider status. The mock provider reports
// successful payments as "completed", which maps to PaymentPaid.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "completed" {
		return PaymentPaid, nil
	}
	if p := PaymentStatus(v); p.Valid() {
		return p, nil
	}
	return "", errors.Wrapf(ErrInvalidPayment, "status %q", s)
}

// PaymentSignal is the payment outcome reported by the payment collaborator.
type PaymentSignal struct {
	Status    PaymentStatus
	Amount    decimal.Decimal
	Reference string
}

// Item is a priced cart line.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	WeightKG  float64         `json:"weight_kg"`
}

// LineTotal returns UnitPrice * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is a shipping destination. Coordinates are optional; without them
// the destination is treated as the warehouse itself.
type Address struct {
	Line1       string                `json:"line1"`
	City        string                `json:"city"`
	State       string                `json:"state"`
	PostalCode  string                `json:"postal_code"`
	Country     string                `json:"country"`
	Coordinates *shipping.Coordinates `json:"coordinates,omitempty"`
}

// String joins the non-empty address parts.
func (a Address) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Line1, a.City, a.State, a.PostalCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Cart is a snapshot of a customer's cart.
type Cart struct {
	ID        string    `json:"id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order is a placed order. Only Status and PaymentStatus change after
// creation.
type Order struct {
	ID                string
	CartID            string
	Items             []Item
	Subtotal          decimal.Decimal
	ShippingCost      decimal.Decimal
	Discount          decimal.Decimal
	Tax               decimal.Decimal
	Total             decimal.Decimal
	CouponCode        string
	TrackingNumber    string
	Status            status.Status
	PaymentStatus     PaymentStatus
	ShippingAddress   Address
	DistanceKM        float64
	WeightKG          float64
	EstimatedDelivery time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Destination returns the shipping coordinates, or fallback when the
// address has none.
func (o *Order) Destination(fallback shipping.Coordinates) shipping.Coordinates {
	if o.ShippingAddress.Coordinates != nil {
		return *o.ShippingAddress.Coordinates
	}
	return fallback
}

// Repository persists orders. Create returns ErrDuplicateTrackingNumber when
// the tracking number is taken. ListWithoutTracker returns orders created
// before olderThan that have no tracker, oldest first.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, st status.Status) error
	UpdatePaymentStatus(ctx context.Context, id string, ps PaymentStatus) error
	ListWithoutTracker(ctx context.Context, olderThan time.Time, limit int) ([]Order, error)
}

// CartStore provides cart snapshots. Load returns ErrCartNotFound for
// unknown carts.
type CartStore interface {
	Load(ctx context.Context, cartID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, cartID string) error
}
