// Package pricefeed is the bidirectional price registry between currency
// pairs. A price and its reciprocal are one stored value: entries are kept
// under a canonical pair key and inverted on the way in and out.
package pricefeed

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/money"
)

var (
	// ErrNoPrice is returned when a pair has never been priced.
	ErrNoPrice = errors.New("pricefeed: price unavailable")

	// ErrInvalidPrice is returned for non-positive prices.
	ErrInvalidPrice = errors.New("pricefeed: price must be positive")

	// ErrSamePair is returned when base and quote are the same currency.
	ErrSamePair = errors.New("pricefeed: base and quote must differ")
)

// Pair is the canonical key of a currency pair: the larger identifier comes
// first. Inverse records whether the caller asked in the opposite order.
type Pair struct {
	First   ledger.CurrencyID
	Second  ledger.CurrencyID
	Inverse bool
}

// NewPair canonicalizes (base, quote).
func NewPair(base, quote ledger.CurrencyID) Pair {
	if base >= quote {
		return Pair{First: base, Second: quote}
	}
	return Pair{First: quote, Second: base, Inverse: true}
}

func (p Pair) key() Pair {
	return Pair{First: p.First, Second: p.Second}
}

// String renders the canonical key as FIRST/SECOND.
func (p Pair) String() string {
	return string(p.First) + "/" + string(p.Second)
}

// Rate is a price held as the exact fraction Num/Den. Inverting swaps the
// terms, so a rate and its reciprocal never drift apart.
type Rate struct {
	Num decimal.Decimal `json:"num"`
	Den decimal.Decimal `json:"den"`
}

// NewRate returns the rate price/1.
func NewRate(price decimal.Decimal) Rate {
	return Rate{Num: price, Den: money.One}
}

// Inverse returns 1/r.
func (r Rate) Inverse() Rate {
	return Rate{Num: r.Den, Den: r.Num}
}

// Value renders the rate as a decimal at money.Scale.
func (r Rate) Value() decimal.Decimal {
	return r.Num.DivRound(r.Den, money.Scale)
}

// Equal reports whether two rates denote the same number.
func (r Rate) Equal(o Rate) bool {
	return r.Num.Mul(o.Den).Equal(o.Num.Mul(r.Den))
}

// MulAmount returns amount × rate with one rounding step.
func (r Rate) MulAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	return money.MulDiv(amount, r.Num, r.Den)
}

// DivAmount returns amount ÷ rate with one rounding step.
func (r Rate) DivAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	return money.MulDiv(amount, r.Den, r.Num)
}

// Entry is one stored price in canonical direction.
type Entry struct {
	Pair      Pair      `json:"pair"`
	Rate      Rate      `json:"rate"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feed stores prices keyed by canonical pair. Not safe for concurrent use.
type Feed struct {
	entries map[Pair]Entry
	now     func() time.Time
}

// New creates an empty price feed.
func New() *Feed {
	return &Feed{
		entries: make(map[Pair]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetPrice records the price of base in quote and returns the stored entry.
// The stored value is always expressed in canonical direction.
func (f *Feed) SetPrice(base, quote ledger.CurrencyID, price decimal.Decimal) (Entry, error) {
	if base == quote {
		return Entry{}, fmt.Errorf("%w: %s", ErrSamePair, base)
	}
	if !price.IsPositive() {
		return Entry{}, fmt.Errorf("%w: %s/%s = %s", ErrInvalidPrice, base, quote, price)
	}
	if err := money.Check(price); err != nil {
		return Entry{}, err
	}

	pair := NewPair(base, quote)
	rate := NewRate(price)
	if pair.Inverse {
		rate = rate.Inverse()
	}
	e := Entry{Pair: pair.key(), Rate: rate, UpdatedAt: f.now()}
	// Updates of one pair are strictly ordered in time.
	if prev, ok := f.entries[e.Pair]; ok && !e.UpdatedAt.After(prev.UpdatedAt) {
		e.UpdatedAt = prev.UpdatedAt.Add(time.Microsecond)
	}
	f.entries[e.Pair] = e
	return e, nil
}

// GetPrice returns the price of base in quote.
func (f *Feed) GetPrice(base, quote ledger.CurrencyID) (Rate, error) {
	pair := NewPair(base, quote)
	e, ok := f.entries[pair.key()]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %s/%s", ErrNoPrice, base, quote)
	}
	if pair.Inverse {
		return e.Rate.Inverse(), nil
	}
	return e.Rate, nil
}

// UpdatedAt returns when the pair was last priced.
func (f *Feed) UpdatedAt(base, quote ledger.CurrencyID) (time.Time, error) {
	e, ok := f.entries[NewPair(base, quote).key()]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s/%s", ErrNoPrice, base, quote)
	}
	return e.UpdatedAt, nil
}

// Prices returns all stored entries ordered by canonical pair.
func (f *Feed) Prices() []Entry {
	out := make([]Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.String() < out[j].Pair.String() })
	return out
}
