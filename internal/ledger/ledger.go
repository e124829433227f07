// Package ledger tracks fungible balances per currency.
//
// Every currency the engine knows about (collateral currencies, backing
// "real" assets and the leveraged-class tokens themselves) lives in one
// Ledger keyed by currency identity. The ledger enforces two invariants:
// no balance is ever negative, and the sum of balances of a currency always
// equals its total issuance.
//
// A Ledger is not safe for concurrent use; the margin engine serializes
// access to it.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when an operation would drive a
	// balance negative.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInvalidAmount is returned for amounts the operation cannot accept.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrUnknownCurrency is returned for currencies that were never registered.
	ErrUnknownCurrency = errors.New("ledger: unknown currency")

	// ErrCurrencyExists is returned when registering a duplicate currency.
	ErrCurrencyExists = errors.New("ledger: currency already registered")

	// ErrTxClosed is returned when a committed or rolled back transaction is reused.
	ErrTxClosed = errors.New("ledger: transaction already closed")
)

// DefaultDecimals is the precision used when a currency declares an
// out-of-range value.
const DefaultDecimals int32 = 18

// CurrencyID identifies a currency, e.g. "USD" or a class ticker.
type CurrencyID string

// Account is an opaque balance holder.
type Account string

// Currency is the metadata registered for a currency.
type Currency struct {
	ID       CurrencyID `json:"id"`
	Name     string     `json:"name"`
	Symbol   string     `json:"symbol"`
	Decimals int32      `json:"decimals"`
}

// Holding is one account's balance in a currency.
type Holding struct {
	Account Account         `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

// Ledger maps (currency, account) to a non-negative balance.
type Ledger struct {
	currencies map[CurrencyID]Currency
	balances   map[CurrencyID]map[Account]decimal.Decimal
	issuance   map[CurrencyID]decimal.Decimal
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		currencies: make(map[CurrencyID]Currency),
		balances:   make(map[CurrencyID]map[Account]decimal.Decimal),
		issuance:   make(map[CurrencyID]decimal.Decimal),
	}
}

// Register adds a currency. Decimals outside [0, DefaultDecimals] fall back
// to DefaultDecimals; zero is a whole-unit currency.
func (l *Ledger) Register(c Currency) error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty currency id", ErrUnknownCurrency)
	}
	if _, ok := l.currencies[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrCurrencyExists, c.ID)
	}
	if c.Decimals < 0 || c.Decimals > DefaultDecimals {
		c.Decimals = DefaultDecimals
	}
	if c.Symbol == "" {
		c.Symbol = string(c.ID)
	}
	l.currencies[c.ID] = c
	l.balances[c.ID] = make(map[Account]decimal.Decimal)
	l.issuance[c.ID] = decimal.Zero
	return nil
}

// Currency returns the metadata of a registered currency.
func (l *Ledger) Currency(id CurrencyID) (Currency, error) {
	c, ok := l.currencies[id]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, id)
	}
	return c, nil
}

// Currencies lists registered currencies ordered by ID.
func (l *Ledger) Currencies() []Currency {
	out := make([]Currency, 0, len(l.currencies))
	for _, c := range l.currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BalanceOf returns the balance of account in currency; zero if unknown.
func (l *Ledger) BalanceOf(cur CurrencyID, account Account) decimal.Decimal {
	return l.balances[cur][account]
}

// TotalIssuance returns the aggregate supply of a currency.
func (l *Ledger) TotalIssuance(cur CurrencyID) decimal.Decimal {
	return l.issuance[cur]
}

// Holders returns every account that ever held the currency, ordered by account.
func (l *Ledger) Holders(cur CurrencyID) []Holding {
	accts := l.balances[cur]
	out := make([]Holding, 0, len(accts))
	for a, b := range accts {
		out = append(out, Holding{Account: a, Balance: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Transfer moves amount of cur from one account to another.
func (l *Ledger) Transfer(cur CurrencyID, from, to Account, amount decimal.Decimal) error {
	tx := l.Begin()
	if err := tx.Transfer(cur, from, to, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// Mint credits amount to account and grows total issuance. A negative amount
// burns instead.
func (l *Ledger) Mint(cur CurrencyID, account Account, amount decimal.Decimal) error {
	tx := l.Begin()
	if err := tx.Mint(cur, account, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// Burn debits amount from account and shrinks total issuance. A negative
// amount mints instead.
func (l *Ledger) Burn(cur CurrencyID, account Account, amount decimal.Decimal) error {
	tx := l.Begin()
	if err := tx.Burn(cur, account, amount); err != nil {
		return err
	}
	return tx.Commit()
}
