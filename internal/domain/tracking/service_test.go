package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
)

type memRepo struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	// conflicts makes the next N appends fail with ErrConflict.
	conflicts int
	appends   int
}

func newMemRepo() *memRepo {
	return &memRepo{trackers: map[string]*Tracker{}}
}

func (r *memRepo) Create(_ context.Context, t *Tracker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trackers[t.TrackingNumber]; ok {
		return ErrDuplicate
	}
	cp := *t
	cp.History = append([]Location(nil), t.History...)
	r.trackers[t.TrackingNumber] = &cp
	return nil
}

func (r *memRepo) Get(_ context.Context, trackingNumber string) (*Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[trackingNumber]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.History = append([]Location(nil), t.History...)
	return &cp, nil
}

func (r *memRepo) Append(_ context.Context, trackingNumber string, version int, loc Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appends++
	t, ok := r.trackers[trackingNumber]
	if !ok {
		return ErrNotFound
	}
	if r.conflicts > 0 {
		r.conflicts--
		return ErrConflict
	}
	if t.Version != version {
		return ErrConflict
	}
	t.History = append(t.History, loc)
	t.Current = loc
	t.Version++
	t.UpdatedAt = loc.Timestamp
	return nil
}

var (
	bengaluru = shipping.Coordinates{Latitude: 12.9716, Longitude: 77.5946}
	chennai   = shipping.Coordinates{Latitude: 13.0827, Longitude: 80.2707}
)

func seed(t *testing.T, repo *memRepo, at time.Time) *Tracker {
	t.Helper()
	tr := NewTracker("order-1", "TRKABC1234567", bengaluru, chennai, "Warehouse", status.Pending, at.Add(72*time.Hour), at)
	require.NoError(t, repo.Create(context.Background(), tr))
	return tr
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestNewTracker(t *testing.T) {
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker("o", "TRK0000000001", bengaluru, chennai, "Warehouse", status.Pending, at, at)

	assert.Empty(t, tr.History)
	assert.Equal(t, DescriptionPlaced, tr.Current.Description)
	assert.Equal(t, bengaluru, tr.Current.Coordinates())
	assert.Equal(t, status.Pending, tr.Current.Status)
	assert.Equal(t, 0, tr.Version)

	v := NewView(tr)
	assert.Zero(t, v.Progress)
	assert.Equal(t, 0, v.ProgressPercentage)
	assert.Equal(t, bengaluru, v.Position)
	assert.InDelta(t, v.TotalDistanceKM, v.DistanceRemaining, 0.01)
}

func TestServiceUpdateShippedTwice(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	seed(t, repo, start)

	svc := NewService(repo)
	svc.now = fixedClock(start.Add(time.Hour))

	v, err := svc.Update(ctx, "TRKABC1234567", Update{Status: status.Shipped})
	require.NoError(t, err)
	require.Len(t, v.Tracker.History, 1)
	assert.Equal(t, 30, v.ProgressPercentage)
	assert.Equal(t, "Status updated to Shipped", v.Tracker.Current.Description)

	v, err = svc.Update(ctx, "TRKABC1234567", Update{Status: status.Shipped})
	require.NoError(t, err)
	require.Len(t, v.Tracker.History, 2)
	assert.Equal(t, 30, v.ProgressPercentage)

	stored, err := repo.Get(ctx, "TRKABC1234567")
	require.NoError(t, err)
	require.Len(t, stored.History, 2)
	assert.Equal(t, stored.History[len(stored.History)-1], stored.Current)
}

func TestServiceUpdateCarriesLocation(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	seed(t, repo, start)

	svc := NewService(repo)
	svc.now = fixedClock(start.Add(time.Hour))

	lat, lon := 12.99, 78.5
	v, err := svc.Update(ctx, "trkabc1234567 ", Update{
		Status:      status.InTransit,
		Latitude:    &lat,
		Longitude:   &lon,
		Address:     "Hosur Road",
		Description: "Left the hub",
	})
	require.NoError(t, err)
	cur := v.Tracker.Current
	assert.Equal(t, lat, cur.Latitude)
	assert.Equal(t, lon, cur.Longitude)
	assert.Equal(t, "Hosur Road", cur.Address)
	assert.Equal(t, "Left the hub", cur.Description)
	assert.Equal(t, 60, v.ProgressPercentage)

	v, err = svc.Update(ctx, "TRKABC1234567", Update{Status: status.OutForDelivery})
	require.NoError(t, err)
	cur = v.Tracker.Current
	assert.Equal(t, lat, cur.Latitude)
	assert.Equal(t, lon, cur.Longitude)
	assert.Equal(t, "Hosur Road", cur.Address)
	assert.Equal(t, 90, v.ProgressPercentage)
	assert.InDelta(t, v.TotalDistanceKM*0.1, v.DistanceRemaining, 0.01)
}

func TestServiceUpdateHistoryOrdered(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	seed(t, repo, start)

	svc := NewService(repo)
	// Clock runs backwards; timestamps must not.
	svc.now = fixedClock(start.Add(2 * time.Hour))
	_, err := svc.Update(ctx, "TRKABC1234567", Update{Status: status.Processing})
	require.NoError(t, err)

	svc.now = fixedClock(start)
	v, err := svc.Update(ctx, "TRKABC1234567", Update{Status: status.Confirmed})
	require.NoError(t, err)

	h := v.Tracker.History
	require.Len(t, h, 2)
	assert.False(t, h[1].Timestamp.Before(h[0].Timestamp))
}

func TestServiceUpdatePermissive(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seed(t, repo, time.Now())

	svc := NewService(repo)
	_, err := svc.Update(ctx, "TRKABC1234567", Update{Status: status.Delivered})
	require.NoError(t, err)

	v, err := svc.Update(ctx, "TRKABC1234567", Update{Status: status.Pending})
	require.NoError(t, err)
	assert.Equal(t, status.Pending, v.Tracker.Current.Status)
}

func TestServiceUpdateStrict(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seed(t, repo, time.Now())

	svc := NewService(repo, WithStrictTransitions(true))
	_, err := svc.Update(ctx, "TRKABC1234567", Update{Status: status.Shipped})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "TRKABC1234567", Update{Status: status.Processing})
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.Update(ctx, "TRKABC1234567", Update{Status: status.Cancelled})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "TRKABC1234567", Update{Status: status.Delivered})
	require.ErrorIs(t, err, ErrIllegalTransition)

	stored, err := repo.Get(ctx, "TRKABC1234567")
	require.NoError(t, err)
	assert.Len(t, stored.History, 2)
}

func TestServiceUpdateInvalid(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seed(t, repo, time.Now())
	svc := NewService(repo)

	lat, bad := 10.0, 200.0
	for _, tc := range []struct {
		name string
		u    Update
	}{
		{"UnknownStatus", Update{Status: "Lost"}},
		{"LatitudeOnly", Update{Status: status.Shipped, Latitude: &lat}},
		{"OutOfRange", Update{Status: status.Shipped, Latitude: &lat, Longitude: &bad}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Update(ctx, "TRKABC1234567", tc.u)
			require.ErrorIs(t, err, ErrInvalidUpdate)
		})
	}
	assert.Zero(t, repo.appends)
}

func TestServiceCheck(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seed(t, repo, time.Now())
	svc := NewService(repo, WithStrictTransitions(true))

	cur, err := svc.Check(ctx, " trkabc1234567 ", Update{Status: status.Shipped})
	require.NoError(t, err)
	assert.Equal(t, status.Pending, cur.Current.Status)

	_, err = svc.Update(ctx, "TRKABC1234567", Update{Status: status.Cancelled})
	require.NoError(t, err)
	appends := repo.appends

	_, err = svc.Check(ctx, "TRKABC1234567", Update{Status: status.Delivered})
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.Check(ctx, "TRKABC1234567", Update{Status: "Lost"})
	require.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = svc.Check(ctx, "TRKNOPE000000", Update{Status: status.Shipped})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, appends, repo.appends)
}

func TestServiceNotFound(t *testing.T) {
	svc := NewService(newMemRepo())

	_, err := svc.Get(context.Background(), "TRKNOPE000000")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(context.Background(), "TRKNOPE000000", Update{Status: status.Shipped})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceUpdateRetriesConflict(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seed(t, repo, time.Now())
	svc := NewService(repo)

	repo.conflicts = appendAttempts - 1
	v, err := svc.Update(ctx, "TRKABC1234567", Update{Status: status.Shipped})
	require.NoError(t, err)
	assert.Len(t, v.Tracker.History, 1)
	assert.Equal(t, appendAttempts, repo.appends)

	repo.conflicts = appendAttempts
	_, err = svc.Update(ctx, "TRKABC1234567", Update{Status: status.InTransit})
	require.True(t, errors.Is(err, ErrConflict))
}

func TestServiceConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	seed(t, repo, time.Now())
	svc := NewService(repo)

	const workers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Update(ctx, "TRKABC1234567", Update{Status: status.InTransit}); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}()
	}
	wg.Wait()

	stored, err := repo.Get(ctx, "TRKABC1234567")
	require.NoError(t, err)
	assert.Len(t, stored.History, oks)
	assert.Equal(t, oks, stored.Version)
	for i := 1; i < len(stored.History); i++ {
		assert.False(t, stored.History[i].Timestamp.Before(stored.History[i-1].Timestamp))
	}
}
