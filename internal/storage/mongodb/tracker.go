package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

type locationDoc struct {
	Latitude    float64   `bson:"latitude"`
	Longitude   float64   `bson:"longitude"`
	Address     string    `bson:"address"`
	Timestamp   time.Time `bson:"timestamp"`
	Status      string    `bson:"status"`
	Description string    `bson:"description"`
}

type trackerDoc struct {
	TrackingNumber    string         `bson:"_id"`
	OrderID           string         `bson:"order_id"`
	Origin            coordinatesDoc `bson:"origin"`
	Destination       coordinatesDoc `bson:"destination"`
	Current           locationDoc    `bson:"current"`
	History           []locationDoc  `bson:"history"`
	EstimatedDelivery time.Time      `bson:"estimated_delivery"`
	Version           int            `bson:"version"`
	CreatedAt         time.Time      `bson:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at"`
}

var _ tracking.Repository = (*TrackerRepository)(nil)

// TrackerRepository implements tracking.Repository backed by MongoDB.
type TrackerRepository struct {
	collection *mongo.Collection
}

// NewTrackerRepository returns a TrackerRepository on the trackers
// collection.
func NewTrackerRepository(db *mongo.Database) *TrackerRepository {
	return &TrackerRepository{collection: db.Collection(TrackersCollection)}
}

// Create inserts a new tracker.
func (r *TrackerRepository) Create(ctx context.Context, t *tracking.Tracker) error {
	if _, err := r.collection.InsertOne(ctx, newTrackerDoc(t)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return tracking.ErrDuplicate
		}
		return errors.Wrapf(err, "create tracker %q", t.TrackingNumber)
	}
	return nil
}

// Get returns the tracker with the given tracking number.
func (r *TrackerRepository) Get(ctx context.Context, trackingNumber string) (*tracking.Tracker, error) {
	var doc trackerDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": trackingNumber}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, tracking.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get tracker %q", trackingNumber)
	}
	return doc.toDomain(), nil
}

// Append pushes loc onto the history and makes it current in one update,
// provided the stored version still equals version.
func (r *TrackerRepository) Append(ctx context.Context, trackingNumber string, version int, loc tracking.Location) error {
	l := newLocationDoc(loc)
	filter := bson.M{"_id": trackingNumber, "version": version}
	update := bson.M{
		"$push": bson.M{"history": l},
		"$set":  bson.M{"current": l, "updated_at": loc.Timestamp},
		"$inc":  bson.M{"version": 1},
	}
	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return errors.Wrapf(err, "append tracker %q", trackingNumber)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": trackingNumber})
	if err != nil {
		return errors.Wrapf(err, "check tracker %q", trackingNumber)
	}
	if n == 0 {
		return tracking.ErrNotFound
	}
	return tracking.ErrConflict
}

func newLocationDoc(l tracking.Location) locationDoc {
	return locationDoc{
		Latitude:    l.Latitude,
		Longitude:   l.Longitude,
		Address:     l.Address,
		Timestamp:   l.Timestamp,
		Status:      string(l.Status),
		Description: l.Description,
	}
}

func (d locationDoc) toDomain() tracking.Location {
	return tracking.Location{
		Latitude:    d.Latitude,
		Longitude:   d.Longitude,
		Address:     d.Address,
		Timestamp:   d.Timestamp.UTC(),
		Status:      status.Status(d.Status),
		Description: d.Description,
	}
}

func newTrackerDoc(t *tracking.Tracker) *trackerDoc {
	doc := &trackerDoc{
		TrackingNumber:    t.TrackingNumber,
		OrderID:           t.OrderID,
		Origin:            coordinatesDoc{Latitude: t.Origin.Latitude, Longitude: t.Origin.Longitude},
		Destination:       coordinatesDoc{Latitude: t.Destination.Latitude, Longitude: t.Destination.Longitude},
		Current:           newLocationDoc(t.Current),
		History:           make([]locationDoc, len(t.History)),
		EstimatedDelivery: t.EstimatedDelivery,
		Version:           t.Version,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	for i, l := range t.History {
		doc.History[i] = newLocationDoc(l)
	}
	return doc
}

func (d *trackerDoc) toDomain() *tracking.Tracker {
	t := &tracking.Tracker{
		OrderID:           d.OrderID,
		TrackingNumber:    d.TrackingNumber,
		Origin:            shipping.Coordinates{Latitude: d.Origin.Latitude, Longitude: d.Origin.Longitude},
		Destination:       shipping.Coordinates{Latitude: d.Destination.Latitude, Longitude: d.Destination.Longitude},
		Current:           d.Current.toDomain(),
		History:           make([]tracking.Location, len(d.History)),
		EstimatedDelivery: d.EstimatedDelivery.UTC(),
		Version:           d.Version,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
	for i, l := range d.History {
		t.History[i] = l.toDomain()
	}
	return t
}
