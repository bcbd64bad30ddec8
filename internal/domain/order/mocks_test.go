package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

// --- coupons ---

type memCoupons struct {
	mu      sync.Mutex
	coupons map[string]*coupon.Coupon
	// stale makes FindByCode report free slots regardless of UsedCount.
	stale bool
}

func newMemCoupons(cs ...*coupon.Coupon) *memCoupons {
	m := &memCoupons{coupons: map[string]*coupon.Coupon{}}
	for _, c := range cs {
		m.coupons[coupon.NormalizeCode(c.Code)] = c
	}
	return m
}

func (m *memCoupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	if m.stale {
		cp.UsedCount = 0
	}
	return &cp, nil
}

func (m *memCoupons) IncrementUsage(_ context.Context, code string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok || !c.IsActive || (c.Limited() && c.UsedCount >= *c.UsageLimit) {
		return 0, coupon.ErrUsageLimitReached
	}
	c.UsedCount++
	return c.UsedCount, nil
}

func (m *memCoupons) DecrementUsage(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.coupons[code]; ok && c.UsedCount > 0 {
		c.UsedCount--
	}
	return nil
}

func (m *memCoupons) Upsert(_ context.Context, c *coupon.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[coupon.NormalizeCode(c.Code)] = c
	return nil
}

func (m *memCoupons) used(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[code].UsedCount
}

// --- trackers ---

type memTrackers struct {
	mu        sync.Mutex
	trackers  map[string]*tracking.Tracker
	createErr error
}

func newMemTrackers() *memTrackers {
	return &memTrackers{trackers: map[string]*tracking.Tracker{}}
}

func (m *memTrackers) Create(_ context.Context, t *tracking.Tracker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.trackers {
		if existing.OrderID == t.OrderID {
			return tracking.ErrDuplicate
		}
	}
	if _, ok := m.trackers[t.TrackingNumber]; ok {
		return tracking.ErrDuplicate
	}
	cp := *t
	m.trackers[t.TrackingNumber] = &cp
	return nil
}

func (m *memTrackers) Get(_ context.Context, trackingNumber string) (*tracking.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[trackingNumber]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	cp := *t
	cp.History = append([]tracking.Location(nil), t.History...)
	return &cp, nil
}

func (m *memTrackers) Append(_ context.Context, trackingNumber string, version int, loc tracking.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[trackingNumber]
	if !ok {
		return tracking.ErrNotFound
	}
	if t.Version != version {
		return tracking.ErrConflict
	}
	t.History = append(t.History, loc)
	t.Current = loc
	t.Version++
	return nil
}

func (m *memTrackers) hasOrder(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trackers {
		if t.OrderID == orderID {
			return true
		}
	}
	return false
}

func (m *memTrackers) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trackers)
}

// --- orders ---

type memOrders struct {
	mu       sync.Mutex
	orders   map[string]*Order
	trackers *memTrackers
	// duplicates makes the next N creates collide.
	duplicates int
	creates    int
	createErr  error
}

func newMemOrders(trackers *memTrackers) *memOrders {
	return &memOrders{orders: map[string]*Order{}, trackers: trackers}
}

func (m *memOrders) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return m.createErr
	}
	if m.duplicates != 0 {
		if m.duplicates > 0 {
			m.duplicates--
		}
		return ErrDuplicateTrackingNumber
	}
	for _, existing := range m.orders {
		if existing.TrackingNumber == o.TrackingNumber {
			return ErrDuplicateTrackingNumber
		}
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) GetByTrackingNumber(_ context.Context, trackingNumber string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.TrackingNumber == trackingNumber {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, st status.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = st
	return nil
}

func (m *memOrders) UpdatePaymentStatus(_ context.Context, id string, ps PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = ps
	return nil
}

func (m *memOrders) ListWithoutTracker(_ context.Context, olderThan time.Time, limit int) ([]Order, error) {
	m.mu.Lock()
	var out []Order
	for _, o := range m.orders {
		if o.CreatedAt.Before(olderThan) {
			out = append(out, *o)
		}
	}
	m.mu.Unlock()

	filtered := out[:0]
	for _, o := range out {
		if !m.trackers.hasOrder(o.ID) {
			filtered = append(filtered, o)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.Before(filtered[j].CreatedAt) })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (m *memOrders) all() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out
}

// --- carts ---

type memCarts struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

func newMemCarts() *memCarts {
	return &memCarts{carts: map[string]*Cart{}}
}

func (m *memCarts) Load(_ context.Context, cartID string) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return nil, ErrCartNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCarts) Save(_ context.Context, c *Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.carts[c.ID] = &cp
	return nil
}

func (m *memCarts) Clear(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, cartID)
	return nil
}

// --- events ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// --- fixtures ---

func intPtr(v int) *int { return &v }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func save10() *coupon.Coupon {
	return &coupon.Coupon{
		Code:          "SAVE10",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		MinPurchase:   decPtr(500),
		UsageLimit:    intPtr(1),
		IsActive:      true,
	}
}

func flat50() *coupon.Coupon {
	return &coupon.Coupon{
		Code:          "FLAT50",
		DiscountType:  coupon.DiscountFixed,
		DiscountValue: decimal.NewFromInt(50),
		IsActive:      true,
	}
}

// flakyOrders fails the next failStatus UpdateStatus calls.
type flakyOrders struct {
	*memOrders
	failStatus int
}

func (f *flakyOrders) UpdateStatus(ctx context.Context, id string, st status.Status) error {
	f.mu.Lock()
	if f.failStatus > 0 {
		f.failStatus--
		f.mu.Unlock()
		return errors.New("db down")
	}
	f.mu.Unlock()
	return f.memOrders.UpdateStatus(ctx, id, st)
}

// conflictingTrackers rejects every append with a version conflict.
type conflictingTrackers struct {
	*memTrackers
}

func (c *conflictingTrackers) Append(context.Context, string, int, tracking.Location) error {
	return tracking.ErrConflict
}
