// Package rediscache keeps cart snapshots and cached trackers in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

var _ order.CartStore = (*CartStore)(nil)

// CartStore implements order.CartStore. Carts expire after the configured
// TTL of inactivity.
type CartStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewCartStore creates a CartStore. A non-positive ttl defaults to 24h.
func NewCartStore(client redis.UniversalClient, ttl time.Duration) *CartStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CartStore{client: client, ttl: ttl, now: time.Now}
}

// Load returns the cart snapshot or order.ErrCartNotFound.
func (s *CartStore) Load(ctx context.Context, cartID string) (*order.Cart, error) {
	data, err := s.client.Get(ctx, cartKey(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, order.ErrCartNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %q", cartID)
	}

	var c order.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "unmarshal cart %q", cartID)
	}
	return &c, nil
}

// Save stores the snapshot and refreshes its TTL.
func (s *CartStore) Save(ctx context.Context, c *order.Cart) error {
	if c.ID == "" {
		return errors.New("cart id required")
	}
	c.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrapf(err, "marshal cart %q", c.ID)
	}
	if err := s.client.Set(ctx, cartKey(c.ID), data, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "set cart %q", c.ID)
	}
	return nil
}

// Clear removes the snapshot.
func (s *CartStore) Clear(ctx context.Context, cartID string) error {
	if err := s.client.Del(ctx, cartKey(cartID)).Err(); err != nil {
		return errors.Wrapf(err, "delete cart %q", cartID)
	}
	return nil
}

func cartKey(cartID string) string {
	return "cart:" + cartID
}
