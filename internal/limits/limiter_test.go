package limits

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	err := limiter.CheckLimit(Exposure{ClassID: "USD-EUR-10X", Pair: "USD/EUR", Notional: d(100)}, nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PerClassExceeded(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	existing := []Exposure{{ClassID: "USD-EUR-10X", Pair: "USD/EUR", Notional: d(950)}}
	err := limiter.CheckLimit(Exposure{ClassID: "USD-EUR-10X", Pair: "USD/EUR", Notional: d(100)}, existing)
	if !errors.Is(err, ErrPerClassLimitExceeded) {
		t.Errorf("expected ErrPerClassLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_ExactlyAtLimit(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	existing := []Exposure{{ClassID: "USD-EUR-10X", Pair: "USD/EUR", Notional: d(900)}}
	err := limiter.CheckLimit(Exposure{ClassID: "USD-EUR-10X", Pair: "USD/EUR", Notional: d(100)}, existing)
	if err != nil {
		t.Errorf("exposure at the limit should pass, got %v", err)
	}
}

func TestCheckLimit_CorrelatedExceeded(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(2000))

	existing := []Exposure{
		{ClassID: "USD-EUR-5X", Pair: "USD/EUR", Notional: d(800)},
		{ClassID: "USD-EUR-20X", Pair: "USD/EUR", Notional: d(900)},
		{ClassID: "USD-JPY-10X", Pair: "USD/JPY", Notional: d(1000)}, // different pair
	}
	err := limiter.CheckLimit(Exposure{ClassID: "USD-EUR-10X", Pair: "USD/EUR", Notional: d(400)}, existing)
	if !errors.Is(err, ErrPairLimitExceeded) {
		t.Errorf("expected ErrPairLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_UncorrelatedIgnored(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(2000))

	existing := []Exposure{
		{ClassID: "USD-JPY-10X", Pair: "USD/JPY", Notional: d(1000)},
		{ClassID: "USD-GBP-10X", Pair: "USD/GBP", Notional: d(1000)},
	}
	err := limiter.CheckLimit(Exposure{ClassID: "USD-EUR-10X", Pair: "USD/EUR", Notional: d(1000)}, existing)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_ZeroDisables(t *testing.T) {
	limiter := NewExposureLimiter(decimal.Zero, d(-5))
	err := limiter.CheckLimit(Exposure{ClassID: "A", Pair: "P", Notional: d(1e12)}, nil)
	if err != nil {
		t.Errorf("zero limits should disable checks, got %v", err)
	}
}
