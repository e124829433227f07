// Package symbol handles leveraged-class ticker parsing and formatting.
//
// Format: {BASE}-{QUOTE}-{LEVERAGE}X
// Example: USD-EUR-10X is the 10x class on the USD/EUR pair.
package symbol

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// tickerRegex matches: {BASE}-{QUOTE}-{LEVERAGE}X with 2-10 character
// upper-case alphanumeric currency codes.
var tickerRegex = regexp.MustCompile(
	`^([A-Z][A-Z0-9]{1,9})-([A-Z][A-Z0-9]{1,9})-([0-9]+(?:\.[0-9]+)?)X$`,
)

var (
	ErrInvalidTicker   = errors.New("symbol: invalid ticker format")
	ErrInvalidLeverage = errors.New("symbol: leverage must be positive")
)

// Ticker is a parsed class ticker.
type Ticker struct {
	Symbol   string          `json:"symbol"`
	Base     string          `json:"base"`
	Quote    string          `json:"quote"`
	Leverage decimal.Decimal `json:"leverage"`
}

// Parse parses and validates a class ticker.
func Parse(ticker string) (*Ticker, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {BASE}-{QUOTE}-{LEVERAGE}X)", ErrInvalidTicker, ticker)
	}

	base, quote := matches[1], matches[2]
	if base == quote {
		return nil, fmt.Errorf("%w: %s trades a currency against itself", ErrInvalidTicker, ticker)
	}

	leverage, err := decimal.NewFromString(matches[3])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTicker, ticker)
	}
	if !leverage.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLeverage, ticker)
	}

	return &Ticker{
		Symbol:   ticker,
		Base:     base,
		Quote:    quote,
		Leverage: leverage,
	}, nil
}

// Format renders the ticker for a class.
func Format(base, quote string, leverage decimal.Decimal) string {
	return fmt.Sprintf("%s-%s-%sX", base, quote, leverage.String())
}
