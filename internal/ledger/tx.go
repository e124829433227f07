package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/money"
)

type balanceKey struct {
	cur     CurrencyID
	account Account
}

// Tx stages ledger operations against an overlay of the current balances.
// Every step is validated against the staged state, so a sequence of steps
// inside a transaction behaves exactly like the same steps applied one by
// one. Nothing reaches the ledger until Commit; a transaction that is
// dropped or rolled back leaves no trace.
type Tx struct {
	l        *Ledger
	balances map[balanceKey]decimal.Decimal
	issuance map[CurrencyID]decimal.Decimal
	closed   bool
}

// Begin opens a new transaction on the ledger.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		l:        l,
		balances: make(map[balanceKey]decimal.Decimal),
		issuance: make(map[CurrencyID]decimal.Decimal),
	}
}

// BalanceOf returns the staged balance of account in cur.
func (tx *Tx) BalanceOf(cur CurrencyID, account Account) decimal.Decimal {
	if b, ok := tx.balances[balanceKey{cur, account}]; ok {
		return b
	}
	return tx.l.BalanceOf(cur, account)
}

// TotalIssuance returns the staged total issuance of cur.
func (tx *Tx) TotalIssuance(cur CurrencyID) decimal.Decimal {
	if v, ok := tx.issuance[cur]; ok {
		return v
	}
	return tx.l.TotalIssuance(cur)
}

// Transfer stages a movement of amount from one account to another.
func (tx *Tx) Transfer(cur CurrencyID, from, to Account, amount decimal.Decimal) error {
	amt, err := tx.prepare(cur, amount)
	if err != nil {
		return err
	}
	if amt.IsNegative() {
		return fmt.Errorf("%w: transfer of %s", ErrInvalidAmount, amount)
	}

	fromBal := tx.BalanceOf(cur, from).Sub(amt)
	if fromBal.IsNegative() {
		return fmt.Errorf("%w: %s has %s %s, needs %s",
			ErrInsufficientBalance, from, tx.BalanceOf(cur, from), cur, amt)
	}
	if from == to {
		return nil
	}
	toBal := tx.BalanceOf(cur, to).Add(amt)
	if err := money.Check(toBal); err != nil {
		return err
	}

	tx.balances[balanceKey{cur, from}] = fromBal
	tx.balances[balanceKey{cur, to}] = toBal
	return nil
}

// Mint stages a credit to account. Negative amounts are burns.
func (tx *Tx) Mint(cur CurrencyID, account Account, amount decimal.Decimal) error {
	amt, err := tx.prepare(cur, amount)
	if err != nil {
		return err
	}
	if amt.IsNegative() {
		return tx.burn(cur, account, amt.Neg())
	}
	return tx.mint(cur, account, amt)
}

// Burn stages a debit from account. Negative amounts are mints.
func (tx *Tx) Burn(cur CurrencyID, account Account, amount decimal.Decimal) error {
	amt, err := tx.prepare(cur, amount)
	if err != nil {
		return err
	}
	if amt.IsNegative() {
		return tx.mint(cur, account, amt.Neg())
	}
	return tx.burn(cur, account, amt)
}

func (tx *Tx) mint(cur CurrencyID, account Account, amt decimal.Decimal) error {
	bal := tx.BalanceOf(cur, account).Add(amt)
	supply := tx.TotalIssuance(cur).Add(amt)
	if err := money.Check(supply); err != nil {
		return err
	}
	tx.balances[balanceKey{cur, account}] = bal
	tx.issuance[cur] = supply
	return nil
}

func (tx *Tx) burn(cur CurrencyID, account Account, amt decimal.Decimal) error {
	bal := tx.BalanceOf(cur, account).Sub(amt)
	if bal.IsNegative() {
		return fmt.Errorf("%w: %s has %s %s, needs %s",
			ErrInsufficientBalance, account, tx.BalanceOf(cur, account), cur, amt)
	}
	// Balances never exceed issuance, so supply cannot go negative here.
	tx.balances[balanceKey{cur, account}] = bal
	tx.issuance[cur] = tx.TotalIssuance(cur).Sub(amt)
	return nil
}

// prepare validates the currency and quantizes amount to its decimals.
func (tx *Tx) prepare(cur CurrencyID, amount decimal.Decimal) (decimal.Decimal, error) {
	if tx.closed {
		return decimal.Zero, ErrTxClosed
	}
	c, ok := tx.l.currencies[cur]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, cur)
	}
	if err := money.Check(amount); err != nil {
		return decimal.Zero, err
	}
	return money.Quantize(amount, c.Decimals), nil
}

// Commit applies all staged changes to the ledger.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	for k, b := range tx.balances {
		tx.l.balances[k.cur][k.account] = b
	}
	for cur, v := range tx.issuance {
		tx.l.issuance[cur] = v
	}
	return nil
}

// Rollback discards all staged changes. It is safe to call after Commit.
func (tx *Tx) Rollback() {
	tx.closed = true
	tx.balances = nil
	tx.issuance = nil
}
