// Package decay computes the minimum pool balance required before a card can be banished.
package decay

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Policy returns the minimum custodial pool balance that must be present to banish a
// card holding deposit, elapsed after the card was created. Implementations must be
// pure and non-decreasing in elapsed.
type Policy func(deposit decimal.Decimal, elapsed time.Duration) decimal.Decimal

const (
	CurveFlat   = "flat"
	CurveLinear = "linear"
	CurveStep   = "step"
)

var day = decimal.NewFromInt(int64(24 * time.Hour))

// Flat requires the pool to cover the deposit, whatever the card's age.
func Flat() Policy {
	return func(deposit decimal.Decimal, _ time.Duration) decimal.Decimal {
		return deposit
	}
}

// Linear requires the deposit during the grace window and then grows by ratePerDay of
// the deposit for every day past it. A positive maxFactor bounds the result at deposit*maxFactor.
func Linear(grace time.Duration, ratePerDay, maxFactor decimal.Decimal) Policy {
	return func(deposit decimal.Decimal, elapsed time.Duration) decimal.Decimal {
		if elapsed <= grace {
			return deposit
		}
		days := decimal.NewFromInt(int64(elapsed - grace)).Div(day)
		factor := decimal.NewFromInt(1).Add(ratePerDay.Mul(days))
		if maxFactor.IsPositive() && factor.GreaterThan(maxFactor) {
			factor = maxFactor
		}
		return deposit.Mul(factor)
	}
}

// Step requires the deposit until after has elapsed, then deposit*multiplier.
func Step(after time.Duration, multiplier decimal.Decimal) Policy {
	return func(deposit decimal.Decimal, elapsed time.Duration) decimal.Decimal {
		if elapsed < after {
			return deposit
		}
		return deposit.Mul(multiplier)
	}
}

// Default is the curve used when nothing is configured: one day of grace, then 10% of
// the deposit per day.
func Default() Policy {
	return Linear(24*time.Hour, decimal.NewFromFloat(0.10), decimal.Zero)
}

type Config struct {
	Curve      string          `env:"DECAY_CURVE" envDefault:"linear"`
	Grace      time.Duration   `env:"DECAY_GRACE" envDefault:"24h"`
	RatePerDay decimal.Decimal `env:"DECAY_RATE_PER_DAY" envDefault:"0.10"`
	Cap        decimal.Decimal `env:"DECAY_CAP" envDefault:"0"`
	StepAfter  time.Duration   `env:"DECAY_STEP_AFTER" envDefault:"48h"`
	Multiplier decimal.Decimal `env:"DECAY_STEP_MULTIPLIER" envDefault:"1.5"`
}

// FromConfig builds the policy named by cfg.Curve.
func FromConfig(cfg Config) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Curve)) {
	case CurveFlat:
		return Flat(), nil
	case "", CurveLinear:
		if cfg.RatePerDay.IsNegative() {
			return nil, fmt.Errorf("decay rate must not be negative: %s", cfg.RatePerDay)
		}
		return Linear(cfg.Grace, cfg.RatePerDay, cfg.Cap), nil
	case CurveStep:
		if cfg.Multiplier.LessThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("step multiplier must be at least 1: %s", cfg.Multiplier)
		}
		return Step(cfg.StepAfter, cfg.Multiplier), nil
	default:
		return nil, fmt.Errorf("unknown decay curve %q", cfg.Curve)
	}
}
