// Package shipping estimates shipping cost, delivery dates and simulated
// shipment positions.
package shipping

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/geodesic"

	"github.com/xenking/kart-fulfillment/internal/domain/status"
)

// Coordinates is a WGS84 latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the pair lies within WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180 &&
		!math.IsNaN(c.Latitude) && !math.IsNaN(c.Longitude)
}

// Config holds the tariff and timing constants.
type Config struct {
	BaseCost      decimal.Decimal
	PerKM         decimal.Decimal
	PerKG         decimal.Decimal
	DefaultWeight float64
	SpeedKMH      float64
	HoursPerDay   float64
	JitterMinDays int
	JitterMaxDays int
}

// DefaultConfig returns the standard tariff: 50 base, 2 per km, 10 per kg,
// 50 km/h over 8-hour days with one to two days of processing slack.
func DefaultConfig() Config {
	return Config{
		BaseCost:      decimal.NewFromInt(50),
		PerKM:         decimal.NewFromInt(2),
		PerKG:         decimal.NewFromInt(10),
		DefaultWeight: 1.0,
		SpeedKMH:      50,
		HoursPerDay:   8,
		JitterMinDays: 1,
		JitterMaxDays: 2,
	}
}

// Quote is a computed shipping estimate for one order.
type Quote struct {
	DistanceKM        float64
	WeightKG          float64
	Cost              decimal.Decimal
	EstimatedDelivery time.Time
}

// Jitter returns a whole number of days in [lo, hi].
type Jitter func(lo, hi int) int

// UniformJitter draws uniformly from [lo, hi].
func UniformJitter(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}

// Estimator computes quotes from a Config.
type Estimator struct {
	cfg    Config
	now    func() time.Time
	jitter Jitter
}

// NewEstimator creates an Estimator. Zero-valued config fields fall back to
// DefaultConfig.
func NewEstimator(cfg Config) *Estimator {
	def := DefaultConfig()
	if cfg.BaseCost.IsZero() && cfg.PerKM.IsZero() && cfg.PerKG.IsZero() {
		cfg.BaseCost, cfg.PerKM, cfg.PerKG = def.BaseCost, def.PerKM, def.PerKG
	}
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = def.DefaultWeight
	}
	if cfg.SpeedKMH <= 0 {
		cfg.SpeedKMH = def.SpeedKMH
	}
	if cfg.HoursPerDay <= 0 {
		cfg.HoursPerDay = def.HoursPerDay
	}
	if cfg.JitterMinDays <= 0 && cfg.JitterMaxDays <= 0 {
		cfg.JitterMinDays, cfg.JitterMaxDays = def.JitterMinDays, def.JitterMaxDays
	}
	if cfg.JitterMaxDays < cfg.JitterMinDays {
		cfg.JitterMaxDays = cfg.JitterMinDays
	}
	return &Estimator{cfg: cfg, now: time.Now, jitter: UniformJitter}
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// Distance returns the geodesic distance between a and b in kilometres.
func Distance(a, b Coordinates) float64 {
	var meters float64
	geodesic.WGS84.Inverse(a.Latitude, a.Longitude, b.Latitude, b.Longitude, &meters, nil, nil)
	return meters / 1000
}

// Cost returns base + distance*perKM + weight*perKG rounded to 2 decimals.
// Negative inputs count as zero.
func (e *Estimator) Cost(distanceKM, weightKG float64) decimal.Decimal {
	distanceKM = math.Max(0, distanceKM)
	weightKG = math.Max(0, weightKG)

	cost := e.cfg.BaseCost.
		Add(decimal.NewFromFloat(distanceKM).Mul(e.cfg.PerKM)).
		Add(decimal.NewFromFloat(weightKG).Mul(e.cfg.PerKG))
	return cost.Round(2)
}

// ETA returns the estimated delivery time: now plus the route days and
// processing jitter, never earlier than one day from now.
func (e *Estimator) ETA(distanceKM float64) time.Time {
	hours := math.Max(0, distanceKM) / e.cfg.SpeedKMH
	days := int(hours/e.cfg.HoursPerDay) + e.jitter(e.cfg.JitterMinDays, e.cfg.JitterMaxDays)
	days = max(1, days)
	return e.now().Add(time.Duration(days) * 24 * time.Hour)
}

// Quote prices a shipment from origin to dest. A nil dest means the
// destination is unknown and the shipment is priced as local.
func (e *Estimator) Quote(origin Coordinates, dest *Coordinates, weightKG float64) Quote {
	if weightKG <= 0 {
		weightKG = e.cfg.DefaultWeight
	}

	var distance float64
	if dest != nil {
		distance = Distance(origin, *dest)
	}

	return Quote{
		DistanceKM:        distance,
		WeightKG:          weightKG,
		Cost:              e.Cost(distance, weightKG),
		EstimatedDelivery: e.ETA(distance),
	}
}

// Progress returns the simulated fraction of the route completed for a
// shipment in status s.
func Progress(s status.Status) float64 {
	switch s {
	case status.Shipped:
		return 0.3
	case status.InTransit:
		return 0.6
	case status.OutForDelivery:
		return 0.9
	}
	if s.Terminal() {
		return 1.0
	}
	return 0.0
}

// ProgressPercentage returns Progress as a whole percentage.
func ProgressPercentage(s status.Status) int {
	return int(math.Round(Progress(s) * 100))
}

// Interpolate returns the point progress of the way from origin to dest,
// linearly in latitude and longitude.
func Interpolate(origin, dest Coordinates, progress float64) Coordinates {
	return Coordinates{
		Latitude:  origin.Latitude + (dest.Latitude-origin.Latitude)*progress,
		Longitude: origin.Longitude + (dest.Longitude-origin.Longitude)*progress,
	}
}

// Remaining returns the distance left on a route of totalKM, rounded to
// 2 decimals.
func Remaining(totalKM, progress float64) float64 {
	left := totalKM * (1 - progress)
	return math.Round(math.Max(0, left)*100) / 100
}
