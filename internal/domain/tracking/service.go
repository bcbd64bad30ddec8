package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain/shipping"
	"github.com/xenking/kart-fulfillment/internal/domain/status"
)

// appendAttempts bounds re-reads after a version conflict.
const appendAttempts = 3

// Update is an administrative status change. Zero-valued optional fields
// keep the current location's values.
type Update struct {
	Status      status.Status
	Latitude    *float64
	Longitude   *float64
	Address     string
	Description string
}

// View is a tracker together with its simulated route progress.
type View struct {
	Tracker            *Tracker
	Progress           float64
	ProgressPercentage int
	Position           shipping.Coordinates
	TotalDistanceKM    float64
	DistanceRemaining  float64
}

// Service reads and updates shipment trackers.
type Service struct {
	repo   Repository
	now    func() time.Time
	strict bool
}

// Option configures a Service.
type Option func(*Service)

// WithStrictTransitions rejects updates that do not follow
// status.CanTransition. By default every update is accepted.
func WithStrictTransitions(strict bool) Option {
	return func(s *Service) {
		s.strict = strict
	}
}

// NewService creates a tracking Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the tracker and its progress view.
func (s *Service) Get(ctx context.Context, trackingNumber string) (*View, error) {
	t, err := s.repo.Get(ctx, normalize(trackingNumber))
	if err != nil {
		return nil, err
	}
	return NewView(t), nil
}

// Check reports whether u would be accepted against the current tracker
// without writing anything. It returns the tracker it checked against.
func (s *Service) Check(ctx context.Context, trackingNumber string, u Update) (*Tracker, error) {
	if err := validate(u); err != nil {
		return nil, err
	}
	t, err := s.repo.Get(ctx, normalize(trackingNumber))
	if err != nil {
		return nil, err
	}
	if s.strict && !status.CanTransition(t.Current.Status, u.Status) {
		return nil, errors.Wrapf(ErrIllegalTransition, "%s -> %s", t.Current.Status, u.Status)
	}
	return t, nil
}

// Update appends a location snapshot built from u and makes it current.
func (s *Service) Update(ctx context.Context, trackingNumber string, u Update) (*View, error) {
	if err := validate(u); err != nil {
		return nil, err
	}

	trackingNumber = normalize(trackingNumber)
	for attempt := 1; ; attempt++ {
		t, err := s.repo.Get(ctx, trackingNumber)
		if err != nil {
			return nil, err
		}
		if s.strict && !status.CanTransition(t.Current.Status, u.Status) {
			return nil, errors.Wrapf(ErrIllegalTransition, "%s -> %s", t.Current.Status, u.Status)
		}

		loc := s.nextLocation(t.Current, u)
		err = s.repo.Append(ctx, trackingNumber, t.Version, loc)
		if errors.Is(err, ErrConflict) && attempt < appendAttempts {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "append location")
		}

		t.History = append(t.History, loc)
		t.Current = loc
		t.Version++
		t.UpdatedAt = loc.Timestamp
		return NewView(t), nil
	}
}

// nextLocation derives the snapshot for u from the current location. The
// timestamp never precedes the current one so history stays ordered.
func (s *Service) nextLocation(cur Location, u Update) Location {
	ts := s.now().UTC()
	if ts.Before(cur.Timestamp) {
		ts = cur.Timestamp
	}

	loc := Location{
		Latitude:    cur.Latitude,
		Longitude:   cur.Longitude,
		Address:     cur.Address,
		Timestamp:   ts,
		Status:      u.Status,
		Description: u.Description,
	}
	if u.Latitude != nil {
		loc.Latitude, loc.Longitude = *u.Latitude, *u.Longitude
	}
	if u.Address != "" {
		loc.Address = u.Address
	}
	if loc.Description == "" {
		loc.Description = fmt.Sprintf("Status updated to %s", u.Status)
	}
	return loc
}

// NewView computes the simulated progress of t from its current status.
func NewView(t *Tracker) *View {
	progress := shipping.Progress(t.Current.Status)
	total := shipping.Distance(t.Origin, t.Destination)
	return &View{
		Tracker:            t,
		Progress:           progress,
		ProgressPercentage: shipping.ProgressPercentage(t.Current.Status),
		Position:           shipping.Interpolate(t.Origin, t.Destination, progress),
		TotalDistanceKM:    total,
		DistanceRemaining:  shipping.Remaining(total, progress),
	}
}

func validate(u Update) error {
	if !u.Status.Valid() {
		return errors.Wrapf(ErrInvalidUpdate, "status %q", u.Status)
	}
	if (u.Latitude == nil) != (u.Longitude == nil) {
		return errors.Wrap(ErrInvalidUpdate, "latitude and longitude must be set together")
	}
	if u.Latitude != nil {
		c := shipping.Coordinates{Latitude: *u.Latitude, Longitude: *u.Longitude}
		if !c.Valid() {
			return errors.Wrap(ErrInvalidUpdate, "coordinates out of range")
		}
	}
	return nil
}

func normalize(trackingNumber string) string {
	return strings.ToUpper(strings.TrimSpace(trackingNumber))
}
