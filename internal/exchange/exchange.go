// Package exchange converts balances between currencies at the current
// price-feed rate by burning the source currency and minting the
// destination currency.
package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pricefeed"
)

// Exchange extends a price feed with conversion operations on a ledger.
type Exchange struct {
	*pricefeed.Feed
	ledger *ledger.Ledger
}

// New creates an exchange over the given price feed and ledger.
func New(feed *pricefeed.Feed, l *ledger.Ledger) *Exchange {
	return &Exchange{Feed: feed, ledger: l}
}

// Ledger returns the ledger the exchange settles against.
func (x *Exchange) Ledger() *ledger.Ledger {
	return x.ledger
}

// Quote returns how much quote currency baseAmount of base converts into.
func (x *Exchange) Quote(base, quote ledger.CurrencyID, baseAmount decimal.Decimal) (decimal.Decimal, error) {
	rate, err := x.GetPrice(base, quote)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.DivAmount(baseAmount)
}

// Exchange converts baseAmount of base held by account into quote.
// A negative baseAmount is the reverse trade.
func (x *Exchange) Exchange(base, quote ledger.CurrencyID, account ledger.Account, baseAmount decimal.Decimal) (decimal.Decimal, error) {
	tx := x.ledger.Begin()
	quoteAmount, err := x.ExchangeIn(tx, base, quote, account, baseAmount)
	if err != nil {
		tx.Rollback()
		return decimal.Zero, err
	}
	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return quoteAmount, nil
}

// ExchangeIn stages the conversion inside the caller's transaction.
func (x *Exchange) ExchangeIn(tx *ledger.Tx, base, quote ledger.CurrencyID, account ledger.Account, baseAmount decimal.Decimal) (decimal.Decimal, error) {
	quoteAmount, err := x.Quote(base, quote, baseAmount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Burn(base, account, baseAmount); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Mint(quote, account, quoteAmount); err != nil {
		return decimal.Zero, err
	}
	return quoteAmount, nil
}
