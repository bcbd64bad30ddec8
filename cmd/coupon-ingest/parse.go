package main

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

// parseCoupon decodes one JSON coupon definition. Codes are normalized,
// is_active defaults to true and unknown keys are rejected.
func parseCoupon(raw []byte) (*coupon.Coupon, error) {
	c := &coupon.Coupon{IsActive: true}
	d := jx.DecodeBytes(raw)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			c.Code, err = d.Str()
		case "discount_type":
			var s string
			s, err = d.Str()
			c.DiscountType = coupon.DiscountType(s)
		case "discount_value":
			c.DiscountValue, err = decodeDecimal(d)
		case "min_purchase":
			c.MinPurchase, err = optional(d, decodeDecimal)
		case "max_discount":
			c.MaxDiscount, err = optional(d, decodeDecimal)
		case "valid_from":
			c.ValidFrom, err = optional(d, decodeTime)
		case "valid_until":
			c.ValidUntil, err = optional(d, decodeTime)
		case "usage_limit":
			c.UsageLimit, err = optional(d, (*jx.Decoder).Int)
		case "is_active":
			c.IsActive, err = d.Bool()
		case "description":
			c.Description, err = d.Str()
		default:
			return errors.Errorf("unknown field %s", strconv.Quote(string(key)))
		}
		return errors.Wrap(err, string(key))
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode coupon")
	}
	if d.Next() != jx.Invalid {
		return nil, errors.New("decode coupon: trailing data")
	}
	c.Code = coupon.NormalizeCode(c.Code)
	return c, nil
}

func optional[T any](d *jx.Decoder, fn func(*jx.Decoder) (T, error)) (*T, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := fn(d)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(string(n))
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
