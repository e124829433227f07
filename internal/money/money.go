// Package money holds the fixed-point conventions shared by the margin
// engine. All monetary values use shopspring/decimal, never float64 for money.
//
// shopspring/decimal is arbitrary precision, so "overflow" here means leaving
// the range the engine is willing to account for: every stored amount must
// fit in MaxDigits integer digits. Division is always rounded to Scale
// decimal places so that results are reproducible; the Down variants
// truncate and are used for amounts paid out to holders.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when an amount exceeds the representable range.
	ErrOverflow = errors.New("money: amount out of range")

	// ErrDivisionByZero is returned by the checked division helpers.
	ErrDivisionByZero = errors.New("money: division by zero")
)

const (
	// Scale is the number of decimal places kept by engine arithmetic.
	Scale int32 = 18

	// MaxDigits bounds the integer part of any accounted amount.
	MaxDigits = 38
)

var maxAmount = decimal.New(1, MaxDigits)

// One is the decimal constant 1.
var One = decimal.NewFromInt(1)

// Check returns ErrOverflow if |v| does not fit in MaxDigits integer digits.
func Check(v decimal.Decimal) error {
	if v.Abs().GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: %s", ErrOverflow, v.String())
	}
	return nil
}

// Quantize truncates v to the given number of decimal places (toward zero).
func Quantize(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Truncate(places)
}

// Div computes a / b rounded to Scale places.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q := a.DivRound(b, Scale)
	if err := Check(q); err != nil {
		return decimal.Zero, err
	}
	return q, nil
}

// MulDiv computes a * b / c with a single rounding step at Scale places.
func MulDiv(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	return Div(a.Mul(b), c)
}

// DivDown computes a / b truncated toward zero at Scale places.
func DivDown(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.QuoRem(b, Scale)
	if err := Check(q); err != nil {
		return decimal.Zero, err
	}
	return q, nil
}

// MulDivDown computes a * b / c truncated toward zero at Scale places.
func MulDivDown(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	return DivDown(a.Mul(b), c)
}

// Mul computes a * b rounded to Scale places.
func Mul(a, b decimal.Decimal) (decimal.Decimal, error) {
	p := a.Mul(b).Round(Scale)
	if err := Check(p); err != nil {
		return decimal.Zero, err
	}
	return p, nil
}
