package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

type memRepo struct {
	coupon.Repository

	coupons map[string]*coupon.Coupon
}

func (r *memRepo) Upsert(_ context.Context, c *coupon.Coupon) error {
	r.coupons[coupon.NormalizeCode(c.Code)] = c
	return nil
}

func TestSeedCoupons(t *testing.T) {
	repo := &memRepo{coupons: map[string]*coupon.Coupon{}}
	require.NoError(t, seedCoupons(context.Background(), repo, demoCoupons()))
	require.Len(t, repo.coupons, 2)
	require.Equal(t, coupon.DiscountPercentage, repo.coupons["SAVE10"].DiscountType)
	require.Equal(t, coupon.DiscountFixed, repo.coupons["FLAT50"].DiscountType)

	bad := []*coupon.Coupon{{Code: "", DiscountType: coupon.DiscountFixed}}
	require.ErrorIs(t, seedCoupons(context.Background(), repo, bad), coupon.ErrInvalidCoupon)
}
