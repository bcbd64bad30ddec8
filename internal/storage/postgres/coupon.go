package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

const (
	getCouponSQL = `SELECT code, discount_type, discount_value, min_purchase, max_discount,
		valid_from, valid_until, usage_limit, used_count, is_active, description
		FROM coupons WHERE code = $1`

	// Succeeds only while the coupon is active and has a free slot.
	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE code = $1 AND is_active
		AND (usage_limit IS NULL OR usage_limit <= 0 OR used_count < usage_limit)
		RETURNING used_count`

	decrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count - 1, updated_at = now()
		WHERE code = $1 AND used_count > 0`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, discount_value, min_purchase, max_discount,
		valid_from, valid_until, usage_limit, used_count, is_active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			min_purchase = EXCLUDED.min_purchase,
			max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			usage_limit = EXCLUDED.usage_limit,
			is_active = EXCLUDED.is_active,
			description = EXCLUDED.description,
			updated_at = now()`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// IncrementUsage takes one usage slot in a single conditional UPDATE.
func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) (int, error) {
	var used int32
	err := r.pool.QueryRow(ctx, incrementCouponUsageSQL, code).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, coupon.ErrUsageLimitReached
		}
		return 0, errors.Wrapf(err, "increment coupon %q", code)
	}
	return int(used), nil
}

// DecrementUsage returns one usage slot, never going below zero.
func (r *CouponRepository) DecrementUsage(ctx context.Context, code string) error {
	if _, err := r.pool.Exec(ctx, decrementCouponUsageSQL, code); err != nil {
		return errors.Wrapf(err, "decrement coupon %q", code)
	}
	return nil
}

// Upsert inserts the coupon or replaces its rules. An existing UsedCount is
// kept.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var usageLimit *int32
	if c.UsageLimit != nil {
		v := int32(*c.UsageLimit)
		usageLimit = &v
	}
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		coupon.NormalizeCode(c.Code), string(c.DiscountType), c.DiscountValue,
		nullDecimal(c.MinPurchase), nullDecimal(c.MaxDiscount),
		c.ValidFrom, c.ValidUntil, usageLimit, int32(c.UsedCount), c.IsActive, c.Description,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		minPurchase  decimal.NullDecimal
		maxDiscount  decimal.NullDecimal
		validFrom    *time.Time
		validUntil   *time.Time
		usageLimit   *int32
		usedCount    int32
	)
	err := row.Scan(
		&c.Code, &discountType, &c.DiscountValue, &minPurchase, &maxDiscount,
		&validFrom, &validUntil, &usageLimit, &usedCount, &c.IsActive, &c.Description,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.MinPurchase = decimalPtr(minPurchase)
	c.MaxDiscount = decimalPtr(maxDiscount)
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	if usageLimit != nil {
		v := int(*usageLimit)
		c.UsageLimit = &v
	}
	c.UsedCount = int(usedCount)
	return c, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
