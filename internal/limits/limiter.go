// Package limits implements per-account exposure limits for leveraged
// positions, aware of correlation between classes.
//
// Two classes are correlated when they are leveraged on the same currency
// pair (a 5x and a 10x USD/EUR class move together). The limiter bounds an
// account's notional in a single class and its aggregate notional across
// every class on the same pair.
package limits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerClassLimitExceeded is returned when an open would push an
	// account's notional in one class beyond the per-class maximum.
	ErrPerClassLimitExceeded = errors.New("limits: per-class exposure limit exceeded")

	// ErrPairLimitExceeded is returned when an open would push an account's
	// aggregate notional across correlated classes beyond the pair maximum.
	ErrPairLimitExceeded = errors.New("limits: correlated pair exposure limit exceeded")
)

// Exposure is an account's leveraged notional in one class.
type Exposure struct {
	ClassID  string
	Pair     string
	Notional decimal.Decimal
}

// ExposureLimiter enforces notional limits. A zero limit disables the check.
type ExposureLimiter struct {
	// MaxPerClass is the maximum notional an account may hold in one class.
	MaxPerClass decimal.Decimal

	// MaxPerPair is the maximum aggregate notional an account may hold across
	// all classes leveraged on the same pair.
	MaxPerPair decimal.Decimal
}

// NewExposureLimiter creates a limiter. Negative limits are treated as zero
// (unlimited).
func NewExposureLimiter(maxPerClass, maxPerPair decimal.Decimal) *ExposureLimiter {
	if maxPerClass.IsNegative() {
		maxPerClass = decimal.Zero
	}
	if maxPerPair.IsNegative() {
		maxPerPair = decimal.Zero
	}
	return &ExposureLimiter{MaxPerClass: maxPerClass, MaxPerPair: maxPerPair}
}

// CheckLimit validates that adding delta to the account's existing
// exposures stays within limits.
func (l *ExposureLimiter) CheckLimit(delta Exposure, existing []Exposure) error {
	// 1. Per-class limit.
	inClass := delta.Notional
	for _, e := range existing {
		if e.ClassID == delta.ClassID {
			inClass = inClass.Add(e.Notional)
		}
	}
	if l.MaxPerClass.IsPositive() && inClass.GreaterThan(l.MaxPerClass) {
		return fmt.Errorf("%w: %s notional %s > %s", ErrPerClassLimitExceeded, delta.ClassID, inClass, l.MaxPerClass)
	}

	// 2. Correlated exposure across the pair.
	inPair := inClass
	for _, e := range existing {
		if e.ClassID != delta.ClassID && e.Pair == delta.Pair {
			inPair = inPair.Add(e.Notional.Abs())
		}
	}
	if l.MaxPerPair.IsPositive() && inPair.GreaterThan(l.MaxPerPair) {
		return fmt.Errorf("%w: %s notional %s > %s", ErrPairLimitExceeded, delta.Pair, inPair, l.MaxPerPair)
	}

	return nil
}
