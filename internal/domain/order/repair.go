package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

// RepairConfig tunes the Repairer.
type RepairConfig struct {
	Interval time.Duration
	// Grace skips orders young enough that their checkout may still be
	// creating the tracker.
	Grace time.Duration
	Batch int
}

// Repairer creates the missing initial tracker of orders whose checkout
// stored the order but failed to store the tracker.
type Repairer struct {
	orders   Repository
	trackers tracking.Repository
	cfg      Config
	rc       RepairConfig
	now      func() time.Time
}

// NewRepairer creates a Repairer. cfg supplies the warehouse origin.
func NewRepairer(orders Repository, trackers tracking.Repository, cfg Config, rc RepairConfig) *Repairer {
	if rc.Interval <= 0 {
		rc.Interval = time.Minute
	}
	if rc.Batch <= 0 {
		rc.Batch = 100
	}
	return &Repairer{
		orders:   orders,
		trackers: trackers,
		cfg:      cfg,
		rc:       rc,
		now:      time.Now,
	}
}

// RepairOnce processes one batch and returns how many trackers it created.
func (r *Repairer) RepairOnce(ctx context.Context) (int, error) {
	pending, err := r.orders.ListWithoutTracker(ctx, r.now().Add(-r.rc.Grace), r.rc.Batch)
	if err != nil {
		return 0, errors.Wrap(err, "list orders without tracker")
	}

	lg := zctx.From(ctx)
	var (
		repaired int
		failed   int
		firstErr error
	)
	for i := range pending {
		o := &pending[i]
		t := tracking.NewTracker(
			o.ID, o.TrackingNumber,
			r.cfg.Origin, o.Destination(r.cfg.Origin),
			r.cfg.OriginAddress, o.Status, o.EstimatedDelivery, o.CreatedAt,
		)
		err := r.trackers.Create(ctx, t)
		switch {
		case errors.Is(err, tracking.ErrDuplicate):
			continue
		case err != nil:
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "order %s", o.ID)
			}
			failed++
			continue
		}
		repaired++
		lg.Info("Tracker repaired",
			zap.String("order_id", o.ID),
			zap.String("tracking_number", o.TrackingNumber),
		)
	}
	if firstErr != nil {
		return repaired, errors.Wrapf(firstErr, "%d of %d trackers failed", failed, len(pending))
	}
	return repaired, nil
}

// Run repairs on every interval until ctx is done.
func (r *Repairer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.rc.Interval)
	defer ticker.Stop()

	lg := zctx.From(ctx)
	for {
		if _, err := r.RepairOnce(ctx); err != nil && ctx.Err() == nil {
			lg.Error("Repair trackers", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
