//go:build integration

package mongodb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

func setupDB(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	c, err := tcmongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := Connect(ctx, uri, "kart")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })

	require.NoError(t, EnsureIndexes(ctx, db))
	return db
}

func intPtr(v int) *int { return &v }

func TestMongo(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	t.Run("Coupons", func(t *testing.T) {
		repo := NewCouponRepository(db)
		maxDiscount := decimal.RequireFromString("75.50")
		require.NoError(t, repo.Upsert(ctx, &coupon.Coupon{
			Code:          "save10",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			MaxDiscount:   &maxDiscount,
			UsageLimit:    intPtr(2),
			IsActive:      true,
		}))

		c, err := repo.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		require.NotNil(t, c.MaxDiscount)
		assert.True(t, maxDiscount.Equal(*c.MaxDiscount))
		assert.Nil(t, c.MinPurchase)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.IncrementUsage(ctx, "SAVE10"); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, coupon.ErrUsageLimitReached)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 2, succeeded)

		require.NoError(t, repo.DecrementUsage(ctx, "SAVE10"))
		c, err = repo.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, 1, c.UsedCount)

		// Removing the limit and cap keeps the counter.
		require.NoError(t, repo.Upsert(ctx, &coupon.Coupon{
			Code:          "SAVE10",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			IsActive:      true,
		}))
		c, err = repo.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Nil(t, c.UsageLimit)
		assert.Nil(t, c.MaxDiscount)
		assert.Equal(t, 1, c.UsedCount)

		used, err := repo.IncrementUsage(ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, 2, used)

		_, err = repo.FindByCode(ctx, "MISSING")
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})

	t.Run("OrdersAndTrackers", func(t *testing.T) {
		orders := NewOrderRepository(db)
		trackers := NewTrackerRepository(db)

		now := time.Now().UTC().Truncate(time.Millisecond)
		dest := shipping.Coordinates{Latitude: 13.0827, Longitude: 80.2707}
		o := &order.Order{
			ID:                uuid.New().String(),
			Items:             []order.Item{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("19.99")}},
			Subtotal:          decimal.RequireFromString("19.99"),
			ShippingCost:      decimal.RequireFromString("60"),
			Discount:          decimal.Zero,
			Tax:               decimal.Zero,
			Total:             decimal.RequireFromString("79.99"),
			TrackingNumber:    "TRKMONGO00001",
			Status:            status.Pending,
			PaymentStatus:     order.PaymentPending,
			ShippingAddress:   order.Address{City: "Chennai", Coordinates: &dest},
			EstimatedDelivery: now.Add(24 * time.Hour),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		require.NoError(t, orders.Create(ctx, o))

		dup := *o
		dup.ID = uuid.New().String()
		require.ErrorIs(t, orders.Create(ctx, &dup), order.ErrDuplicateTrackingNumber)

		got, err := orders.GetByTrackingNumber(ctx, "TRKMONGO00001")
		require.NoError(t, err)
		assert.True(t, o.Total.Equal(got.Total))
		assert.Equal(t, dest, *got.ShippingAddress.Coordinates)

		pending, err := orders.ListWithoutTracker(ctx, now.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		tr := tracking.NewTracker(o.ID, o.TrackingNumber, shipping.Coordinates{Latitude: 12.97, Longitude: 77.59},
			dest, "Warehouse", status.Pending, o.EstimatedDelivery, now)
		require.NoError(t, trackers.Create(ctx, tr))
		require.ErrorIs(t, trackers.Create(ctx, tr), tracking.ErrDuplicate)

		pending, err = orders.ListWithoutTracker(ctx, now.Add(time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		loc := tr.Current
		loc.Status = status.InTransit
		loc.Timestamp = now.Add(time.Hour)
		require.NoError(t, trackers.Append(ctx, tr.TrackingNumber, 0, loc))
		require.ErrorIs(t, trackers.Append(ctx, tr.TrackingNumber, 0, loc), tracking.ErrConflict)
		require.ErrorIs(t, trackers.Append(ctx, "TRKNOPE000000", 0, loc), tracking.ErrNotFound)

		stored, err := trackers.Get(ctx, tr.TrackingNumber)
		require.NoError(t, err)
		require.Len(t, stored.History, 1)
		assert.Equal(t, stored.History[0], stored.Current)
		assert.Equal(t, 1, stored.Version)

		require.NoError(t, orders.UpdateStatus(ctx, o.ID, status.InTransit))
		require.ErrorIs(t, orders.UpdatePaymentStatus(ctx, "missing", order.PaymentPaid), order.ErrNotFound)
		_, err = orders.GetByID(ctx, "missing")
		require.ErrorIs(t, err, order.ErrNotFound)
	})
}
