package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/tracking"
)

const (
	createTrackerSQL = `INSERT INTO trackers (tracking_number, order_id,
		origin_lat, origin_lon, destination_lat, destination_lon,
		current_location, history, estimated_delivery, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getTrackerSQL = `SELECT tracking_number, order_id,
		origin_lat, origin_lon, destination_lat, destination_lon,
		current_location, history, estimated_delivery, version, created_at, updated_at
		FROM trackers WHERE tracking_number = $1`

	// One statement: the location joins the history and becomes current.
	appendTrackerSQL = `UPDATE trackers SET
		history = history || $3::jsonb,
		current_location = $4::jsonb,
		version = version + 1,
		updated_at = $5
		WHERE tracking_number = $1 AND version = $2`

	trackerExistsSQL = `SELECT EXISTS (SELECT 1 FROM trackers WHERE tracking_number = $1)`
)

var _ tracking.Repository = (*TrackerRepository)(nil)

// TrackerRepository implements tracking.Repository backed by PostgreSQL.
type TrackerRepository struct {
	pool *pgxpool.Pool
}

// NewTrackerRepository returns a TrackerRepository that uses the given pool.
func NewTrackerRepository(pool *pgxpool.Pool) *TrackerRepository {
	return &TrackerRepository{pool: pool}
}

// Create persists a new tracker.
func (r *TrackerRepository) Create(ctx context.Context, t *tracking.Tracker) error {
	currentJSON, err := json.Marshal(t.Current)
	if err != nil {
		return errors.Wrap(err, "marshal current location")
	}
	history := t.History
	if history == nil {
		history = []tracking.Location{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return errors.Wrap(err, "marshal history")
	}

	_, err = r.pool.Exec(ctx, createTrackerSQL,
		t.TrackingNumber, t.OrderID,
		t.Origin.Latitude, t.Origin.Longitude, t.Destination.Latitude, t.Destination.Longitude,
		currentJSON, historyJSON, t.EstimatedDelivery, int32(t.Version), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return tracking.ErrDuplicate
		}
		return errors.Wrapf(err, "create tracker %q", t.TrackingNumber)
	}
	return nil
}

// Get returns the tracker with the given tracking number.
func (r *TrackerRepository) Get(ctx context.Context, trackingNumber string) (*tracking.Tracker, error) {
	rows, err := r.pool.Query(ctx, getTrackerSQL, trackingNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "get tracker %q", trackingNumber)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTracker)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tracking.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get tracker %q", trackingNumber)
	}
	return &t, nil
}

// Append pushes loc onto the history and makes it current if the stored
// version still equals version.
func (r *TrackerRepository) Append(ctx context.Context, trackingNumber string, version int, loc tracking.Location) error {
	locJSON, err := json.Marshal(loc)
	if err != nil {
		return errors.Wrap(err, "marshal location")
	}
	entryJSON, err := json.Marshal([]tracking.Location{loc})
	if err != nil {
		return errors.Wrap(err, "marshal location")
	}

	tag, err := r.pool.Exec(ctx, appendTrackerSQL, trackingNumber, int32(version), entryJSON, locJSON, loc.Timestamp)
	if err != nil {
		return errors.Wrapf(err, "append tracker %q", trackingNumber)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, trackerExistsSQL, trackingNumber).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check tracker %q", trackingNumber)
	}
	if !exists {
		return tracking.ErrNotFound
	}
	return tracking.ErrConflict
}

func scanTracker(row pgx.CollectableRow) (tracking.Tracker, error) {
	var (
		t           tracking.Tracker
		currentJSON []byte
		historyJSON []byte
		version     int32
	)
	err := row.Scan(
		&t.TrackingNumber, &t.OrderID,
		&t.Origin.Latitude, &t.Origin.Longitude, &t.Destination.Latitude, &t.Destination.Longitude,
		&currentJSON, &historyJSON, &t.EstimatedDelivery, &version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Version = int(version)
	if err := json.Unmarshal(currentJSON, &t.Current); err != nil {
		return t, errors.Wrap(err, "unmarshal current location")
	}
	if err := json.Unmarshal(historyJSON, &t.History); err != nil {
		return t, errors.Wrap(err, "unmarshal history")
	}
	return t, nil
}
