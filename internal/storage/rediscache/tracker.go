package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

var _ tracking.Repository = (*TrackerRepository)(nil)

// storeTracker writes a cached tracker unless the entry already holds a
// newer version. KEYS[1] is the hash, ARGV is version, JSON and TTL in ms.
var storeTracker = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'version'))
if cur and cur > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// TrackerRepository is a read-through cache in front of another
// tracking.Repository. Successful appends write the new tracker through to
// the cache and failed ones evict it. Entries never move to an older
// version. Cache failures are logged and never fail a call.
type TrackerRepository struct {
	primary tracking.Repository
	client  redis.UniversalClient
	ttl     time.Duration
}

// NewTrackerRepository wraps primary. A non-positive ttl defaults to 5m.
func NewTrackerRepository(primary tracking.Repository, client redis.UniversalClient, ttl time.Duration) *TrackerRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TrackerRepository{primary: primary, client: client, ttl: ttl}
}

// Create stores the tracker in the primary repository.
func (r *TrackerRepository) Create(ctx context.Context, t *tracking.Tracker) error {
	return r.primary.Create(ctx, t)
}

// Get serves the tracker from cache, falling back to the primary.
func (r *TrackerRepository) Get(ctx context.Context, trackingNumber string) (*tracking.Tracker, error) {
	key := trackerKey(trackingNumber)
	lg := zctx.From(ctx)

	data, err := r.client.HGet(ctx, key, "data").Bytes()
	switch {
	case err == nil:
		var t tracking.Tracker
		if err := json.Unmarshal(data, &t); err == nil {
			return &t, nil
		}
		lg.Warn("Drop undecodable cached tracker", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Read cached tracker", zap.String("key", key), zap.Error(err))
	}

	t, err := r.primary.Get(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	if err := r.store(ctx, key, t); err != nil {
		lg.Warn("Cache tracker", zap.String("key", key), zap.Error(err))
	}
	return t, nil
}

// Append writes to the primary, then caches the tracker it now holds.
func (r *TrackerRepository) Append(ctx context.Context, trackingNumber string, version int, loc tracking.Location) error {
	key := trackerKey(trackingNumber)
	if err := r.primary.Append(ctx, trackingNumber, version, loc); err != nil {
		r.evict(ctx, key)
		return err
	}

	t, err := r.primary.Get(ctx, trackingNumber)
	if err == nil {
		err = r.store(ctx, key, t)
	}
	if err != nil {
		zctx.From(ctx).Warn("Cache appended tracker", zap.String("key", key), zap.Error(err))
		r.evict(ctx, key)
	}
	return nil
}

func (r *TrackerRepository) store(ctx context.Context, key string, t *tracking.Tracker) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	return storeTracker.Run(ctx, r.client, []string{key}, t.Version, data, r.ttl.Milliseconds()).Err()
}

func (r *TrackerRepository) evict(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		zctx.From(ctx).Warn("Evict cached tracker", zap.String("key", key), zap.Error(err))
	}
}

func trackerKey(trackingNumber string) string {
	return "tracker:" + trackingNumber
}
