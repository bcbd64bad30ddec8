package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
)

const trackingNumberIndex = "tracking_number_unique"

type itemDoc struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	WeightKG  float64              `bson:"weight_kg"`
}

type coordinatesDoc struct {
	Latitude  float64 `bson:"latitude"`
	Longitude float64 `bson:"longitude"`
}

type addressDoc struct {
	Line1       string          `bson:"line1"`
	City        string          `bson:"city"`
	State       string          `bson:"state"`
	PostalCode  string          `bson:"postal_code"`
	Country     string          `bson:"country"`
	Coordinates *coordinatesDoc `bson:"coordinates,omitempty"`
}

type orderDoc struct {
	ID                string               `bson:"_id"`
	CartID            string               `bson:"cart_id"`
	Items             []itemDoc            `bson:"items"`
	Subtotal          primitive.Decimal128 `bson:"subtotal"`
	ShippingCost      primitive.Decimal128 `bson:"shipping_cost"`
	Discount          primitive.Decimal128 `bson:"discount"`
	Tax               primitive.Decimal128 `bson:"tax"`
	Total             primitive.Decimal128 `bson:"total"`
	CouponCode        string               `bson:"coupon_code"`
	TrackingNumber    string               `bson:"tracking_number"`
	Status            string               `bson:"status"`
	PaymentStatus     string               `bson:"payment_status"`
	ShippingAddress   addressDoc           `bson:"shipping_address"`
	DistanceKM        float64              `bson:"distance_km"`
	WeightKG          float64              `bson:"weight_kg"`
	EstimatedDelivery time.Time            `bson:"estimated_delivery"`
	CreatedAt         time.Time            `bson:"created_at"`
	UpdatedAt         time.Time            `bson:"updated_at"`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by MongoDB.
type OrderRepository struct {
	collection *mongo.Collection
}

// NewOrderRepository returns an OrderRepository on the orders collection.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection(OrdersCollection)}
}

// Create inserts a new order. EnsureIndexes must have created the unique
// tracking number index.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	doc, err := newOrderDoc(o)
	if err != nil {
		return err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return order.ErrDuplicateTrackingNumber
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// GetByID returns the order with the given ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByTrackingNumber returns the order with the given tracking number.
func (r *OrderRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"tracking_number": trackingNumber})
}

func (r *OrderRepository) findOne(ctx context.Context, filter bson.M) (*order.Order, error) {
	var doc orderDoc
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "find order")
	}
	return doc.toDomain()
}

// UpdateStatus sets the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, st status.Status) error {
	return r.set(ctx, id, "status", string(st))
}

// UpdatePaymentStatus sets the order payment status.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id string, ps order.PaymentStatus) error {
	return r.set(ctx, id, "payment_status", string(ps))
}

func (r *OrderRepository) set(ctx context.Context, id, field, value string) error {
	update := bson.M{"$set": bson.M{field: value, "updated_at": time.Now().UTC()}}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return errors.Wrapf(err, "update order %q", id)
	}
	if res.MatchedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListWithoutTracker returns orders created before olderThan that have no
// tracker document.
func (r *OrderRepository) ListWithoutTracker(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"created_at": bson.M{"$lt": olderThan}}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         TrackersCollection,
			"localField":   "_id",
			"foreignField": "order_id",
			"as":           "trackers",
		}}},
		{{Key: "$match", Value: bson.M{"trackers": bson.M{"$size": 0}}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.M{"trackers": 0}}},
	}
	cur, err := r.collection.Aggregate(ctx, pipeline, options.Aggregate())
	if err != nil {
		return nil, errors.Wrap(err, "list orders without tracker")
	}

	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "list orders without tracker")
	}
	out := make([]order.Order, 0, len(docs))
	for i := range docs {
		o, err := docs[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

func newOrderDoc(o *order.Order) (*orderDoc, error) {
	doc := &orderDoc{
		ID:                o.ID,
		CartID:            o.CartID,
		Items:             make([]itemDoc, len(o.Items)),
		CouponCode:        o.CouponCode,
		TrackingNumber:    o.TrackingNumber,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		DistanceKM:        o.DistanceKM,
		WeightKG:          o.WeightKG,
		EstimatedDelivery: o.EstimatedDelivery,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		ShippingAddress: addressDoc{
			Line1:      o.ShippingAddress.Line1,
			City:       o.ShippingAddress.City,
			State:      o.ShippingAddress.State,
			PostalCode: o.ShippingAddress.PostalCode,
			Country:    o.ShippingAddress.Country,
		},
	}
	if c := o.ShippingAddress.Coordinates; c != nil {
		doc.ShippingAddress.Coordinates = &coordinatesDoc{Latitude: c.Latitude, Longitude: c.Longitude}
	}

	for i, it := range o.Items {
		price, err := toDecimal128(it.UnitPrice)
		if err != nil {
			return nil, err
		}
		doc.Items[i] = itemDoc{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: price,
			WeightKG:  it.WeightKG,
		}
	}

	var err error
	if doc.Subtotal, err = toDecimal128(o.Subtotal); err != nil {
		return nil, err
	}
	if doc.ShippingCost, err = toDecimal128(o.ShippingCost); err != nil {
		return nil, err
	}
	if doc.Discount, err = toDecimal128(o.Discount); err != nil {
		return nil, err
	}
	if doc.Tax, err = toDecimal128(o.Tax); err != nil {
		return nil, err
	}
	if doc.Total, err = toDecimal128(o.Total); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *orderDoc) toDomain() (*order.Order, error) {
	o := &order.Order{
		ID:                d.ID,
		CartID:            d.CartID,
		Items:             make([]order.Item, len(d.Items)),
		CouponCode:        d.CouponCode,
		TrackingNumber:    d.TrackingNumber,
		Status:            status.Status(d.Status),
		PaymentStatus:     order.PaymentStatus(d.PaymentStatus),
		DistanceKM:        d.DistanceKM,
		WeightKG:          d.WeightKG,
		EstimatedDelivery: d.EstimatedDelivery,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		ShippingAddress: order.Address{
			Line1:      d.ShippingAddress.Line1,
			City:       d.ShippingAddress.City,
			State:      d.ShippingAddress.State,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
		},
	}
	if c := d.ShippingAddress.Coordinates; c != nil {
		o.ShippingAddress.Coordinates = &shipping.Coordinates{Latitude: c.Latitude, Longitude: c.Longitude}
	}

	for i, it := range d.Items {
		price, err := fromDecimal128(it.UnitPrice)
		if err != nil {
			return nil, err
		}
		o.Items[i] = order.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: price,
			WeightKG:  it.WeightKG,
		}
	}

	var err error
	if o.Subtotal, err = fromDecimal128(d.Subtotal); err != nil {
		return nil, err
	}
	if o.ShippingCost, err = fromDecimal128(d.ShippingCost); err != nil {
		return nil, err
	}
	if o.Discount, err = fromDecimal128(d.Discount); err != nil {
		return nil, err
	}
	if o.Tax, err = fromDecimal128(d.Tax); err != nil {
		return nil, err
	}
	if o.Total, err = fromDecimal128(d.Total); err != nil {
		return nil, err
	}
	return o, nil
}
