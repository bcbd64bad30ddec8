package coupon

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the cart total, optionally
	// capped by MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a flat amount, capped at the cart total.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a supported discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

var (
	// ErrNotFound is returned by a Repository when no coupon has the code.
	ErrNotFound = errors.New("coupon not found")
	// ErrUsageLimitReached is returned by Repository.IncrementUsage when the
	// conditional update is rejected because every usage slot is taken or
	// the coupon was deactivated.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrInvalidCoupon is returned by Coupon.Validate for malformed records.
	ErrInvalidCoupon = errors.New("invalid coupon")
)

// Coupon is a redeemable discount code and its eligibility rules.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MinPurchase   *decimal.Decimal
	MaxDiscount   *decimal.Decimal
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	UsageLimit    *int
	UsedCount     int
	IsActive      bool
	Description   string
}

// NormalizeCode returns the canonical form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Limited reports whether the coupon has a usage limit. A non-positive
// limit counts as unlimited.
func (c *Coupon) Limited() bool {
	return c.UsageLimit != nil && *c.UsageLimit > 0
}

// MaxUsage bounds UsageLimit and UsedCount to what storage can hold.
const MaxUsage = math.MaxInt32

// Validate checks the record shape before it is stored.
func (c *Coupon) Validate() error {
	switch {
	case NormalizeCode(c.Code) == "":
		return errors.Wrap(ErrInvalidCoupon, "empty code")
	case !c.DiscountType.Valid():
		return errors.Wrapf(ErrInvalidCoupon, "unsupported discount type %q", c.DiscountType)
	case c.DiscountValue.IsNegative():
		return errors.Wrap(ErrInvalidCoupon, "negative discount value")
	case c.MinPurchase != nil && c.MinPurchase.IsNegative():
		return errors.Wrap(ErrInvalidCoupon, "negative minimum purchase")
	case c.MaxDiscount != nil && c.MaxDiscount.IsNegative():
		return errors.Wrap(ErrInvalidCoupon, "negative maximum discount")
	case c.UsedCount < 0:
		return errors.Wrap(ErrInvalidCoupon, "negative used count")
	case c.UsedCount > MaxUsage:
		return errors.Wrapf(ErrInvalidCoupon, "used count exceeds %d", MaxUsage)
	case c.UsageLimit != nil && *c.UsageLimit > MaxUsage:
		return errors.Wrapf(ErrInvalidCoupon, "usage limit exceeds %d", MaxUsage)
	case c.Limited() && c.UsedCount > *c.UsageLimit:
		return errors.Wrap(ErrInvalidCoupon, "used count exceeds usage limit")
	case c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom):
		return errors.Wrap(ErrInvalidCoupon, "valid_until precedes valid_from")
	}
	return nil
}

// Repository stores coupons. IncrementUsage is the only way UsedCount grows
// and must be a single conditional update: it succeeds only while the coupon
// is active and, when limited, UsedCount < UsageLimit. It returns
// ErrUsageLimitReached otherwise.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	IncrementUsage(ctx context.Context, code string) (usedCount int, err error)
	DecrementUsage(ctx context.Context, code string) error
	Upsert(ctx context.Context, c *Coupon) error
}
