package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the discount the coupon grants on cartTotal.
// Percentage discounts are capped by MaxDiscount when it is positive; fixed
// discounts are capped at cartTotal. The result is never negative.
func ComputeDiscount(c *Coupon, cartTotal decimal.Decimal) decimal.Decimal {
	cartTotal = floorAtZero(cartTotal)

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = cartTotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscount != nil && c.MaxDiscount.IsPositive() && amount.GreaterThan(*c.MaxDiscount) {
			amount = *c.MaxDiscount
		}
	case DiscountFixed:
		amount = c.DiscountValue
	default:
		return decimal.Zero
	}

	return decimal.Min(floorAtZero(amount), cartTotal)
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
