package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

const instrumentationName = "github.com/xenking/kart-fulfillment/internal/domain/order"

// Config holds checkout settings.
type Config struct {
	// Origin is the warehouse every shipment starts from.
	Origin        shipping.Coordinates
	OriginAddress string
	TaxRate       decimal.Decimal
	// TrackingAttempts bounds tracking number regeneration on collision.
	TrackingAttempts int
}

// CheckoutRequest is the input of Checkout. When Items is empty the cart is
// loaded from the CartStore by CartID.
type CheckoutRequest struct {
	CartID          string
	Items           []Item
	ShippingAddress Address
	CouponCode      string
	// PercentOff is an order-level discount in whole percent, applied after
	// the coupon. Values outside the calculator range are ignored.
	PercentOff int
}

// CheckoutResult is the outcome of Checkout.
type CheckoutResult struct {
	Order *Order
	// Coupon is nil when no code was supplied. An invalid coupon is reported
	// here and does not fail the checkout.
	Coupon *coupon.Result
	Quote  shipping.Quote
	// TrackerPending is set when the order was stored but its tracker was
	// not; the Repairer creates it later.
	TrackerPending bool
}

// Service assembles orders and mediates later status and payment changes.
type Service struct {
	orders    Repository
	trackers  tracking.Repository
	tracking  *tracking.Service
	ledger    *coupon.Ledger
	calc      *discount.Calculator
	estimator *shipping.Estimator
	numbers   *TrackingNumbers
	carts     CartStore
	publisher Publisher
	cfg       Config
	now       func() time.Time

	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	placed        metric.Int64Counter
	gaps          metric.Int64Counter
	redemptions   metric.Int64Counter
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithCartStore sets the cart snapshot provider.
func WithCartStore(c CartStore) Option {
	return func(s *Service) { s.carts = c }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithTrackingNumbers replaces the default tracking number generator.
func WithTrackingNumbers(g *TrackingNumbers) Option {
	return func(s *Service) { s.numbers = g }
}

// WithTelemetry sets the meter and tracer providers.
func WithTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) Option {
	return func(s *Service) {
		if mp != nil {
			s.meterProvider = mp
		}
		if tp != nil {
			s.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// Deps are the required collaborators of a Service.
type Deps struct {
	Orders    Repository
	Trackers  tracking.Repository
	Tracking  *tracking.Service
	Ledger    *coupon.Ledger
	Discounts *discount.Calculator
	Estimator *shipping.Estimator
}

// NewService creates an order Service.
func NewService(deps Deps, cfg Config, opts ...Option) (*Service, error) {
	if cfg.TrackingAttempts <= 0 {
		cfg.TrackingAttempts = 5
	}
	s := &Service{
		orders:        deps.Orders,
		trackers:      deps.Trackers,
		tracking:      deps.Tracking,
		ledger:        deps.Ledger,
		calc:          deps.Discounts,
		estimator:     deps.Estimator,
		publisher:     NopPublisher{},
		cfg:           cfg,
		now:           time.Now,
		tracer:        tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meterProvider: metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.numbers == nil {
		s.numbers = NewTrackingNumbers(0)
	}

	meter := s.meterProvider.Meter(instrumentationName)
	var err error
	if s.placed, err = meter.Int64Counter("checkout.orders",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout.orders")
	}
	if s.gaps, err = meter.Int64Counter("checkout.consistency_gaps",
		metric.WithDescription("Orders stored without a tracker"),
	); err != nil {
		return nil, errors.Wrap(err, "checkout.consistency_gaps")
	}
	if s.redemptions, err = meter.Int64Counter("coupon.redemptions",
		metric.WithDescription("Coupon redemption attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "coupon.redemptions")
	}
	return s, nil
}

// Checkout prices the cart, redeems the coupon, stores the order and creates
// its initial tracker.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()
	lg := zctx.From(ctx)

	items, err := s.resolveItems(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := validateAddress(req.ShippingAddress); err != nil {
		return nil, err
	}

	subtotal, weight := decimal.Zero, 0.0
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
		weight += it.WeightKG * float64(it.Quantity)
	}
	subtotal = subtotal.Round(2)

	var couponRes *coupon.Result
	couponCode := coupon.NormalizeCode(req.CouponCode)
	if couponCode != "" {
		couponRes, err = s.ledger.Validate(ctx, couponCode, subtotal)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
	}

	quote := s.estimator.Quote(s.cfg.Origin, req.ShippingAddress.Coordinates, weight)
	tax := subtotal.Mul(s.cfg.TaxRate).Round(2)

	// Redemption is the last irreversible step before the order is stored.
	redeemed := false
	if couponRes != nil && couponRes.Valid {
		applied, err := s.ledger.Apply(ctx, couponCode, subtotal)
		if err != nil {
			return nil, errors.Wrap(err, "redeem coupon")
		}
		couponRes = applied
		redeemed = applied.Valid
		s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("redeemed", redeemed)))
		if !redeemed {
			lg.Info("Coupon lost redemption race",
				zap.String("coupon", couponCode),
				zap.String("reason", applied.Reason),
			)
		}
	}

	couponDiscount := decimal.Zero
	if redeemed {
		couponDiscount = couponRes.DiscountAmount
	}
	price := s.price(subtotal, quote.Cost, tax, couponDiscount, req.PercentOff)

	now := s.now().UTC()
	o := &Order{
		ID:                uuid.New().String(),
		CartID:            req.CartID,
		Items:             items,
		Subtotal:          subtotal,
		ShippingCost:      quote.Cost,
		Discount:          price.discount,
		Tax:               tax,
		Total:             price.total,
		Status:            status.Pending,
		PaymentStatus:     PaymentPending,
		ShippingAddress:   req.ShippingAddress,
		DistanceKM:        quote.DistanceKM,
		WeightKG:          quote.WeightKG,
		EstimatedDelivery: quote.EstimatedDelivery,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if redeemed {
		o.CouponCode = couponCode
	}

	if err := s.create(ctx, o); err != nil {
		if redeemed {
			if relErr := s.ledger.Release(ctx, couponCode); relErr != nil {
				lg.Error("Release coupon after failed checkout",
					zap.String("coupon", couponCode),
					zap.Error(relErr),
				)
			}
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.tracking_number", o.TrackingNumber),
	)
	s.placed.Add(ctx, 1)

	res := &CheckoutResult{Order: o, Coupon: couponRes, Quote: quote}

	t := tracking.NewTracker(
		o.ID, o.TrackingNumber,
		s.cfg.Origin, o.Destination(s.cfg.Origin),
		s.cfg.OriginAddress, o.Status, o.EstimatedDelivery, now,
	)
	if err := s.trackers.Create(ctx, t); err != nil {
		gap := &ConsistencyGapError{OrderID: o.ID, TrackingNumber: o.TrackingNumber, Err: err}
		lg.Error("Tracker not created", zap.Error(gap))
		s.gaps.Add(ctx, 1)
		res.TrackerPending = true
	}

	if s.carts != nil && o.CartID != "" {
		if err := s.carts.Clear(ctx, o.CartID); err != nil {
			lg.Warn("Clear cart", zap.String("cart_id", o.CartID), zap.Error(err))
		}
	}
	s.publish(ctx, Event{
		Type:           EventOrderPlaced,
		OrderID:        o.ID,
		TrackingNumber: o.TrackingNumber,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		Total:          o.Total,
		CouponCode:     o.CouponCode,
		At:             now,
	})

	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("tracking_number", o.TrackingNumber),
		zap.Stringer("total", o.Total),
	)
	return res, nil
}

// UpdateTracking mirrors the new status onto the order and then appends the
// tracker update. A failed mirror leaves the tracker untouched, so the call
// can be retried without adding history.
func (s *Service) UpdateTracking(ctx context.Context, trackingNumber string, u tracking.Update) (*tracking.View, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateTracking")
	defer span.End()

	cur, err := s.tracking.Check(ctx, trackingNumber, u)
	if err != nil {
		return nil, err
	}
	if err := s.orders.UpdateStatus(ctx, cur.OrderID, u.Status); err != nil {
		return nil, errors.Wrap(err, "mirror order status")
	}

	v, err := s.tracking.Update(ctx, trackingNumber, u)
	if err != nil {
		// Put the order back in line with the tracker.
		if rerr := s.orders.UpdateStatus(ctx, cur.OrderID, cur.Current.Status); rerr != nil {
			zctx.From(ctx).Error("Restore order status",
				zap.String("order_id", cur.OrderID),
				zap.Stringer("status", cur.Current.Status),
				zap.Error(rerr),
			)
		}
		return nil, err
	}
	t := v.Tracker

	s.publish(ctx, Event{
		Type:           EventStatusChanged,
		OrderID:        t.OrderID,
		TrackingNumber: t.TrackingNumber,
		Status:         t.Current.Status,
		At:             t.Current.Timestamp,
	})
	return v, nil
}

// ConfirmPayment records a payment outcome. A paid signal must carry the
// order total.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, sig PaymentSignal) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.ConfirmPayment")
	defer span.End()

	if !sig.Status.Valid() {
		return nil, errors.Wrapf(ErrInvalidPayment, "status %q", sig.Status)
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if sig.Status == PaymentPaid && !sig.Amount.Round(2).Equal(o.Total.Round(2)) {
		return nil, errors.Wrapf(ErrPaymentAmountMismatch, "got %s, want %s",
			sig.Amount.StringFixed(2), o.Total.StringFixed(2))
	}

	if err := s.orders.UpdatePaymentStatus(ctx, o.ID, sig.Status); err != nil {
		return nil, errors.Wrap(err, "update payment status")
	}
	o.PaymentStatus = sig.Status
	o.UpdatedAt = s.now().UTC()

	zctx.From(ctx).Info("Payment recorded",
		zap.String("order_id", o.ID),
		zap.String("payment_status", string(sig.Status)),
		zap.String("reference", sig.Reference),
	)
	s.publish(ctx, Event{
		Type:           EventPaymentUpdated,
		OrderID:        o.ID,
		TrackingNumber: o.TrackingNumber,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		Total:          o.Total,
		At:             o.UpdatedAt,
	})
	return o, nil
}

// GetTracker returns the tracker view for a tracking number.
func (s *Service) GetTracker(ctx context.Context, trackingNumber string) (*tracking.View, error) {
	return s.tracking.Get(ctx, trackingNumber)
}

// ValidateCoupon checks a coupon against a cart total without redeeming it.
func (s *Service) ValidateCoupon(ctx context.Context, code string, cartTotal decimal.Decimal) (*coupon.Result, error) {
	return s.ledger.Validate(ctx, code, cartTotal)
}

// Quote estimates shipping from the warehouse to dest.
func (s *Service) Quote(dest *shipping.Coordinates, weightKG float64) shipping.Quote {
	return s.estimator.Quote(s.cfg.Origin, dest, weightKG)
}

func (s *Service) resolveItems(ctx context.Context, req CheckoutRequest) ([]Item, error) {
	items := req.Items
	if len(items) == 0 && req.CartID != "" && s.carts != nil {
		c, err := s.carts.Load(ctx, req.CartID)
		switch {
		case errors.Is(err, ErrCartNotFound):
			return nil, ErrEmptyCart
		case err != nil:
			return nil, errors.Wrap(err, "load cart")
		}
		items = c.Items
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	for i, it := range items {
		switch {
		case it.Quantity <= 0:
			return nil, &InvalidItemError{Index: i, ProductID: it.ProductID, Reason: "quantity must be greater than 0"}
		case it.UnitPrice.IsNegative():
			return nil, &InvalidItemError{Index: i, ProductID: it.ProductID, Reason: "unit price must not be negative"}
		case it.WeightKG < 0:
			return nil, &InvalidItemError{Index: i, ProductID: it.ProductID, Reason: "weight must not be negative"}
		}
	}
	return items, nil
}

func validateAddress(a Address) error {
	if a.Coordinates != nil && !a.Coordinates.Valid() {
		return errors.Wrap(ErrInvalidAddress, "coordinates out of range")
	}
	return nil
}

type pricing struct {
	discount decimal.Decimal
	total    decimal.Decimal
}

// price combines the components into the order total. PercentOff applies
// to the merchandise left after the coupon. The combined discount never
// exceeds the gross amount.
func (s *Service) price(subtotal, shippingCost, tax, couponDiscount decimal.Decimal, percentOff int) pricing {
	afterCoupon := subtotal.Sub(couponDiscount)
	if afterCoupon.IsNegative() {
		afterCoupon = decimal.Zero
	}
	percentDiscount := decimal.NewFromFloat(s.calc.Discount(afterCoupon.InexactFloat64(), percentOff)).Round(2)

	gross := subtotal.Add(shippingCost).Add(tax)
	d := couponDiscount.Add(percentDiscount)
	if d.GreaterThan(gross) {
		d = gross
	}
	return pricing{
		discount: d.Round(2),
		total:    gross.Sub(d).Round(2),
	}
}

// create stores o under a fresh tracking number, regenerating on collision.
func (s *Service) create(ctx context.Context, o *Order) error {
	for attempt := 1; attempt <= s.cfg.TrackingAttempts; attempt++ {
		tn, err := s.numbers.Next()
		if err != nil {
			return errors.Wrap(err, "generate tracking number")
		}
		o.TrackingNumber = tn

		err = s.orders.Create(ctx, o)
		if errors.Is(err, ErrDuplicateTrackingNumber) {
			zctx.From(ctx).Debug("Tracking number collision",
				zap.String("tracking_number", tn),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return errors.Wrap(err, "create order")
		}
		return nil
	}
	o.TrackingNumber = ""
	return ErrTrackingNumberExhausted
}

func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish event",
			zap.String("type", e.Type),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}
