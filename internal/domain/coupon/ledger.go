package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Reasons reported in an invalid Result.
const (
	ReasonInvalidCode   = "Invalid coupon code"
	ReasonNotActive     = "Coupon is not active"
	ReasonNotYetValid   = "Coupon not yet valid"
	ReasonExpired       = "Coupon has expired"
	ReasonLimitReached  = "Coupon usage limit reached"
	reasonMinimumFormat = "Minimum purchase of %s required"
)

// Result is the outcome of validating or applying a coupon. Invalid coupons
// are reported through Valid and Reason, never as errors.
type Result struct {
	Valid          bool
	Reason         string
	Code           string
	DiscountType   DiscountType
	DiscountValue  decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

func invalid(code, reason string, cartTotal decimal.Decimal) *Result {
	return &Result{
		Code:        code,
		Reason:      reason,
		FinalAmount: cartTotal.Round(2),
	}
}

// Ledger validates coupons and owns their usage counters.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger creates a Ledger backed by the given Repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Validate checks the coupon against cartTotal without consuming a usage
// slot. The returned error is non-nil only for storage failures.
func (l *Ledger) Validate(ctx context.Context, code string, cartTotal decimal.Decimal) (*Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return invalid(code, ReasonInvalidCode, cartTotal), nil
	}

	c, err := l.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalid(code, ReasonInvalidCode, cartTotal), nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if reason := l.check(c, cartTotal); reason != "" {
		return invalid(code, reason, cartTotal), nil
	}

	amount := ComputeDiscount(c, cartTotal).Round(2)
	return &Result{
		Valid:          true,
		Code:           code,
		DiscountType:   c.DiscountType,
		DiscountValue:  c.DiscountValue,
		DiscountAmount: amount,
		FinalAmount:    cartTotal.Sub(amount).Round(2),
	}, nil
}

// Apply validates the coupon and, when valid, consumes one usage slot with a
// conditional atomic increment. If another redemption takes the last slot
// first, the result is invalid with ReasonLimitReached.
func (l *Ledger) Apply(ctx context.Context, code string, cartTotal decimal.Decimal) (*Result, error) {
	res, err := l.Validate(ctx, code, cartTotal)
	if err != nil || !res.Valid {
		return res, err
	}

	if _, err := l.repo.IncrementUsage(ctx, res.Code); err != nil {
		if errors.Is(err, ErrUsageLimitReached) {
			return invalid(res.Code, ReasonLimitReached, cartTotal), nil
		}
		return nil, errors.Wrap(err, "increment coupon usage")
	}

	return res, nil
}

// Release returns a usage slot taken by Apply. It compensates a redemption
// whose checkout failed afterwards.
func (l *Ledger) Release(ctx context.Context, code string) error {
	if err := l.repo.DecrementUsage(ctx, NormalizeCode(code)); err != nil {
		return errors.Wrap(err, "release coupon usage")
	}
	return nil
}

// check runs the eligibility rules in order and returns the first failing
// reason, or "" when the coupon is usable.
func (l *Ledger) check(c *Coupon, cartTotal decimal.Decimal) string {
	if !c.IsActive {
		return ReasonNotActive
	}

	now := l.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ReasonNotYetValid
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ReasonExpired
	}

	if c.MinPurchase != nil && c.MinPurchase.IsPositive() && cartTotal.LessThan(*c.MinPurchase) {
		return fmt.Sprintf(reasonMinimumFormat, c.MinPurchase.StringFixed(2))
	}

	if c.Limited() && c.UsedCount >= *c.UsageLimit {
		return ReasonLimitReached
	}

	return ""
}
