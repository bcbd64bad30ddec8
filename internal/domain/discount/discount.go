// Package discount implements the order-level percentage discount with an
// optional native backend.
package discount

import (
	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
)

const (
	// MinPercent is the smallest percentage the calculator applies.
	MinPercent = 0
	// MaxPercent is the largest percentage the calculator applies. Anything
	// above it returns the price unchanged.
	MaxPercent = 70
)

// ErrBackendUnavailable is returned by a Backend that cannot serve requests,
// for example when the binary was built without the native routine.
var ErrBackendUnavailable = errors.New("discount backend unavailable")

// Backend computes a discounted price. Implementations must agree with
// Formula for every percent in [MinPercent, MaxPercent].
type Backend interface {
	ApplyDiscount(price float64, percent int) (float64, error)
}

// Formula is the reference implementation of the discount.
func Formula(price float64, percent int) float64 {
	if percent < MinPercent || percent > MaxPercent {
		return price
	}
	return price - (price * float64(percent) / 100.0)
}

// Calculator applies percentage discounts, preferring the configured backend
// and falling back to Formula on any backend failure.
type Calculator struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker[float64]
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithBackend sets the accelerated backend. A nil backend disables it.
func WithBackend(b Backend) Option {
	return func(c *Calculator) {
		c.backend = b
	}
}

// WithBreaker trips the backend off after maxFailures consecutive errors.
// While open, every call takes the fallback path.
func WithBreaker(maxFailures uint32) Option {
	return func(c *Calculator) {
		if maxFailures == 0 {
			return
		}
		c.breaker = gobreaker.NewCircuitBreaker[float64](gobreaker.Settings{
			Name: "discount-backend",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil
			},
		})
	}
}

// NewCalculator creates a Calculator. Without options it only uses Formula.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply returns price reduced by percent. Out-of-range percentages return
// price unchanged. Backend errors are never surfaced.
func (c *Calculator) Apply(price float64, percent int) float64 {
	if percent < MinPercent || percent > MaxPercent {
		return price
	}
	if v, err := c.accelerated(price, percent); err == nil {
		return v
	}
	return Formula(price, percent)
}

// Discount returns the amount Apply takes off price.
func (c *Calculator) Discount(price float64, percent int) float64 {
	return price - c.Apply(price, percent)
}

// UsesBackend reports whether an accelerated backend is configured.
func (c *Calculator) UsesBackend() bool {
	return c.backend != nil
}

func (c *Calculator) accelerated(price float64, percent int) (float64, error) {
	if c.backend == nil {
		return 0, ErrBackendUnavailable
	}
	if c.breaker == nil {
		return c.backend.ApplyDiscount(price, percent)
	}
	return c.breaker.Execute(func() (float64, error) {
		return c.backend.ApplyDiscount(price, percent)
	})
}
