// Package tracking records shipment location history and exposes the
// simulated delivery progress of an order.
package tracking

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
)

// DescriptionPlaced is the description of every tracker's first location.
const DescriptionPlaced = "Order placed"

var (
	// ErrNotFound is returned when no tracker has the tracking number.
	ErrNotFound = errors.New("tracker not found")
	// ErrDuplicate is returned by Repository.Create when a tracker for the
	// tracking number or order already exists.
	ErrDuplicate = errors.New("tracker already exists")
	// ErrIllegalTransition is returned in strict mode when an update does not
	// follow the lifecycle graph.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrInvalidUpdate is returned for updates carrying unusable values.
	ErrInvalidUpdate = errors.New("invalid tracking update")
	// ErrConflict is returned by Repository.Append when the tracker changed
	// since it was read.
	ErrConflict = errors.New("tracker modified concurrently")
)

// Location is one snapshot of where a shipment is.
type Location struct {
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	Address     string        `json:"address"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      status.Status `json:"status"`
	Description string        `json:"description"`
}

// Coordinates returns the snapshot position.
func (l Location) Coordinates() shipping.Coordinates {
	return shipping.Coordinates{Latitude: l.Latitude, Longitude: l.Longitude}
}

// Tracker is the shipment record paired 1:1 with an order.
type Tracker struct {
	OrderID           string
	TrackingNumber    string
	Origin            shipping.Coordinates
	Destination       shipping.Coordinates
	Current           Location
	History           []Location
	EstimatedDelivery time.Time
	// Version counts appended locations and guards concurrent appends.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTracker builds the initial tracker for an order: the shipment sits at
// the origin with the order's status and an empty history.
func NewTracker(
	orderID, trackingNumber string,
	origin, destination shipping.Coordinates,
	originAddress string,
	st status.Status,
	eta, at time.Time,
) *Tracker {
	return &Tracker{
		OrderID:        orderID,
		TrackingNumber: trackingNumber,
		Origin:         origin,
		Destination:    destination,
		Current: Location{
			Latitude:    origin.Latitude,
			Longitude:   origin.Longitude,
			Address:     originAddress,
			Timestamp:   at,
			Status:      st,
			Description: DescriptionPlaced,
		},
		History:           []Location{},
		EstimatedDelivery: eta,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

// Repository persists trackers. Append must, in one atomic step and only if
// the stored version equals version, push loc onto the history, make it the
// current location and increment the version. It returns ErrConflict when the
// version does not match and ErrNotFound when the tracker does not exist.
type Repository interface {
	Create(ctx context.Context, t *Tracker) error
	Get(ctx context.Context, trackingNumber string) (*Tracker, error)
	Append(ctx context.Context, trackingNumber string, version int, loc Location) error
}
