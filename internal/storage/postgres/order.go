package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
)

const (
	orderColumns = `id, cart_id, items, subtotal, shipping_cost, discount, tax, total,
		coupon_code, tracking_number, status, payment_status, shipping_address,
		distance_km, weight_kg, estimated_delivery, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByTrackingNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE tracking_number = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

	updateOrderPaymentStatusSQL = `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`

	listOrdersWithoutTrackerSQL = `SELECT ` + orderColumns + ` FROM orders o
		WHERE o.created_at < $1
		AND NOT EXISTS (SELECT 1 FROM trackers t WHERE t.order_id = o.id)
		ORDER BY o.created_at
		LIMIT $2`

	trackingNumberConstraint = "orders_tracking_number_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items and the shipping address are stored
// as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal order items")
	}
	addressJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CartID, itemsJSON, o.Subtotal, o.ShippingCost, o.Discount, o.Tax, o.Total,
		o.CouponCode, o.TrackingNumber, string(o.Status), string(o.PaymentStatus), addressJSON,
		o.DistanceKM, o.WeightKG, o.EstimatedDelivery, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, trackingNumberConstraint) {
			return order.ErrDuplicateTrackingNumber
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// GetByID returns the order with the given ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByTrackingNumber returns the order with the given tracking number.
func (r *OrderRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByTrackingNumberSQL, trackingNumber)
}

func (r *OrderRepository) getOne(ctx context.Context, sql string, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", arg)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", arg)
	}
	return &o, nil
}

// UpdateStatus sets the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, st status.Status) error {
	return r.update(ctx, updateOrderStatusSQL, id, string(st))
}

// UpdatePaymentStatus sets the order payment status.
func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, id string, ps order.PaymentStatus) error {
	return r.update(ctx, updateOrderPaymentStatusSQL, id, string(ps))
}

func (r *OrderRepository) update(ctx context.Context, sql, id, value string) error {
	if _, err := uuid.Parse(id); err != nil {
		return order.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, sql, id, value)
	if err != nil {
		return errors.Wrapf(err, "update order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListWithoutTracker returns orders created before olderThan that have no
// tracker row.
func (r *OrderRepository) ListWithoutTracker(ctx context.Context, olderThan time.Time, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersWithoutTrackerSQL, olderThan, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders without tracker")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "list orders without tracker")
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		itemsJSON     []byte
		addressJSON   []byte
		st            string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.CartID, &itemsJSON, &o.Subtotal, &o.ShippingCost, &o.Discount, &o.Tax, &o.Total,
		&o.CouponCode, &o.TrackingNumber, &st, &paymentStatus, &addressJSON,
		&o.DistanceKM, &o.WeightKG, &o.EstimatedDelivery, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = status.Status(st)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, errors.Wrap(err, "unmarshal order items")
	}
	if err := json.Unmarshal(addressJSON, &o.ShippingAddress); err != nil {
		return o, errors.Wrap(err, "unmarshal shipping address")
	}
	return o, nil
}
