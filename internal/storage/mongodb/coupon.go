package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

type couponDoc struct {
	Code          string                `bson:"_id"`
	DiscountType  string                `bson:"discount_type"`
	DiscountValue primitive.Decimal128  `bson:"discount_value"`
	MinPurchase   *primitive.Decimal128 `bson:"min_purchase,omitempty"`
	MaxDiscount   *primitive.Decimal128 `bson:"max_discount,omitempty"`
	ValidFrom     *time.Time            `bson:"valid_from,omitempty"`
	ValidUntil    *time.Time            `bson:"valid_until,omitempty"`
	UsageLimit    *int                  `bson:"usage_limit,omitempty"`
	UsedCount     int                   `bson:"used_count"`
	IsActive      bool                  `bson:"is_active"`
	Description   string                `bson:"description"`
}

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by MongoDB.
type CouponRepository struct {
	collection *mongo.Collection
}

// NewCouponRepository returns a CouponRepository on the coupons collection.
func NewCouponRepository(db *mongo.Database) *CouponRepository {
	return &CouponRepository{collection: db.Collection(CouponsCollection)}
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var doc couponDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": code}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return doc.toDomain()
}

// IncrementUsage takes one usage slot with a single FindOneAndUpdate whose
// filter only matches an active coupon with a free slot.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) (int, error) {
	filter := bson.M{
		"_id":       code,
		"is_active": true,
		"$or": bson.A{
			bson.M{"usage_limit": nil},
			bson.M{"usage_limit": bson.M{"$lte": 0}},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$used_count", "$usage_limit"}}},
		},
	}
	update := bson.M{"$inc": bson.M{"used_count": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc couponDoc
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, coupon.ErrUsageLimitReached
		}
		return 0, errors.Wrapf(err, "increment coupon %q", code)
	}
	return doc.UsedCount, nil
}

// DecrementUsage returns one usage slot, never going below zero.
func (r *CouponRepository) DecrementUsage(ctx context.Context, code string) error {
	filter := bson.M{"_id": code, "used_count": bson.M{"$gt": 0}}
	update := bson.M{"$inc": bson.M{"used_count": -1}}
	if _, err := r.collection.UpdateOne(ctx, filter, update); err != nil {
		return errors.Wrapf(err, "decrement coupon %q", code)
	}
	return nil
}

// Upsert inserts the coupon or replaces its rules. An existing UsedCount is
// kept.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	doc, err := newCouponDoc(c)
	if err != nil {
		return err
	}

	set := bson.M{
		"discount_type":  doc.DiscountType,
		"discount_value": doc.DiscountValue,
		"is_active":      doc.IsActive,
		"description":    doc.Description,
	}
	unset := bson.M{}
	optional := map[string]any{
		"min_purchase": doc.MinPurchase,
		"max_discount": doc.MaxDiscount,
		"valid_from":   doc.ValidFrom,
		"valid_until":  doc.ValidUntil,
		"usage_limit":  doc.UsageLimit,
	}
	for field, v := range optional {
		if isNil(v) {
			unset[field] = ""
			continue
		}
		set[field] = v
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"used_count": doc.UsedCount},
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": doc.Code}, update, opts); err != nil {
		return errors.Wrapf(err, "upsert coupon %q", doc.Code)
	}
	return nil
}

func isNil(v any) bool {
	switch p := v.(type) {
	case *primitive.Decimal128:
		return p == nil
	case *time.Time:
		return p == nil
	case *int:
		return p == nil
	}
	return v == nil
}

func newCouponDoc(c *coupon.Coupon) (*couponDoc, error) {
	value, err := toDecimal128(c.DiscountValue)
	if err != nil {
		return nil, err
	}
	minPurchase, err := toDecimal128Ptr(c.MinPurchase)
	if err != nil {
		return nil, err
	}
	maxDiscount, err := toDecimal128Ptr(c.MaxDiscount)
	if err != nil {
		return nil, err
	}
	return &couponDoc{
		Code:          coupon.NormalizeCode(c.Code),
		DiscountType:  string(c.DiscountType),
		DiscountValue: value,
		MinPurchase:   minPurchase,
		MaxDiscount:   maxDiscount,
		ValidFrom:     c.ValidFrom,
		ValidUntil:    c.ValidUntil,
		UsageLimit:    c.UsageLimit,
		UsedCount:     c.UsedCount,
		IsActive:      c.IsActive,
		Description:   c.Description,
	}, nil
}

func (d *couponDoc) toDomain() (*coupon.Coupon, error) {
	value, err := fromDecimal128(d.DiscountValue)
	if err != nil {
		return nil, err
	}
	minPurchase, err := fromDecimal128Ptr(d.MinPurchase)
	if err != nil {
		return nil, err
	}
	maxDiscount, err := fromDecimal128Ptr(d.MaxDiscount)
	if err != nil {
		return nil, err
	}
	return &coupon.Coupon{
		Code:          d.Code,
		DiscountType:  coupon.DiscountType(d.DiscountType),
		DiscountValue: value,
		MinPurchase:   minPurchase,
		MaxDiscount:   maxDiscount,
		ValidFrom:     d.ValidFrom,
		ValidUntil:    d.ValidUntil,
		UsageLimit:    d.UsageLimit,
		UsedCount:     d.UsedCount,
		IsActive:      d.IsActive,
		Description:   d.Description,
	}, nil
}
