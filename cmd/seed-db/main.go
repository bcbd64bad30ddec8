// Command seed-db prepares the storage schema and upserts the demo coupons.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/app"
	"github.com/xenking/kart-fulfillment/internal/cli"
	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

func main() {
	storage := cli.StorageFlags(flag.CommandLine)
	flag.Parse()

	if err := cli.ResolveStorage(storage); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *storage); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, cfg app.StorageConfig) error {
	slog.Info("connecting to storage", slog.String("driver", cfg.Driver))

	st, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer func() { _ = st.Close() }()

	return seedCoupons(ctx, st.Coupons, demoCoupons())
}

func demoCoupons() []*coupon.Coupon {
	minPurchase := decimal.NewFromInt(500)
	maxDiscount := decimal.NewFromInt(200)
	limit := 100
	return []*coupon.Coupon{
		{
			Code:          "SAVE10",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			MinPurchase:   &minPurchase,
			MaxDiscount:   &maxDiscount,
			UsageLimit:    &limit,
			IsActive:      true,
			Description:   "10% off orders over 500",
		},
		{
			Code:          "FLAT50",
			DiscountType:  coupon.DiscountFixed,
			DiscountValue: decimal.NewFromInt(50),
			IsActive:      true,
			Description:   "50 off any order",
		},
	}
}

func seedCoupons(ctx context.Context, repo coupon.Repository, coupons []*coupon.Coupon) error {
	slog.Info("seeding coupons", slog.Int("count", len(coupons)))

	for _, c := range coupons {
		if err := c.Validate(); err != nil {
			return errors.Wrapf(err, "coupon %s", c.Code)
		}
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}
