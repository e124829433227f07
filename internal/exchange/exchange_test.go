package exchange

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pricefeed"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestExchange(t *testing.T) (*Exchange, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	for _, id := range []ledger.CurrencyID{"USD", "EUR"} {
		if err := l.Register(ledger.Currency{ID: id, Decimals: ledger.DefaultDecimals}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return New(pricefeed.New(), l), l
}

func TestExchange_NoPrice(t *testing.T) {
	x, l := newTestExchange(t)
	l.Mint("USD", "alice", d("100"))

	_, err := x.Exchange("USD", "EUR", "alice", d("10"))
	if !errors.Is(err, pricefeed.ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
	if !l.BalanceOf("USD", "alice").Equal(d("100")) {
		t.Errorf("failed exchange must not mutate, got %s", l.BalanceOf("USD", "alice"))
	}
}

func TestExchange_BurnsBaseMintsQuote(t *testing.T) {
	x, l := newTestExchange(t)
	x.SetPrice("USD", "EUR", d("1.2"))
	l.Mint("USD", "alice", d("120"))

	got, err := x.Exchange("USD", "EUR", "alice", d("120"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d("100")) {
		t.Errorf("expected 100 EUR, got %s", got)
	}
	if !l.BalanceOf("USD", "alice").IsZero() {
		t.Errorf("expected USD=0, got %s", l.BalanceOf("USD", "alice"))
	}
	if !l.BalanceOf("EUR", "alice").Equal(d("100")) {
		t.Errorf("expected EUR=100, got %s", l.BalanceOf("EUR", "alice"))
	}
	if !l.TotalIssuance("USD").IsZero() || !l.TotalIssuance("EUR").Equal(d("100")) {
		t.Errorf("issuance out of sync: USD=%s EUR=%s", l.TotalIssuance("USD"), l.TotalIssuance("EUR"))
	}
}

func TestExchange_InsufficientIsAtomic(t *testing.T) {
	x, l := newTestExchange(t)
	x.SetPrice("USD", "EUR", d("1.2"))
	l.Mint("USD", "alice", d("10"))

	_, err := x.Exchange("USD", "EUR", "alice", d("12"))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !l.BalanceOf("EUR", "alice").IsZero() {
		t.Errorf("no EUR should be minted, got %s", l.BalanceOf("EUR", "alice"))
	}
}

func TestExchange_NegativeAmountIsReverseTrade(t *testing.T) {
	x1, l1 := newTestExchange(t)
	x1.SetPrice("USD", "EUR", d("1.2"))
	l1.Mint("EUR", "alice", d("100"))

	x2, l2 := newTestExchange(t)
	x2.SetPrice("USD", "EUR", d("1.2"))
	l2.Mint("EUR", "alice", d("100"))

	// Path 1: exchange(USD, EUR, -60) mints 60 USD and burns 50 EUR.
	if _, err := x1.Exchange("USD", "EUR", "alice", d("-60")); err != nil {
		t.Fatalf("reverse trade: %v", err)
	}
	// Path 2: exchange(EUR, USD, 60/1.2).
	if _, err := x2.Exchange("EUR", "USD", "alice", d("50")); err != nil {
		t.Fatalf("forward trade: %v", err)
	}

	for _, cur := range []ledger.CurrencyID{"USD", "EUR"} {
		a, b := l1.BalanceOf(cur, "alice"), l2.BalanceOf(cur, "alice")
		if !a.Equal(b) {
			t.Errorf("%s: reverse trade %s != forward trade %s", cur, a, b)
		}
	}
	if !l1.BalanceOf("USD", "alice").Equal(d("60")) {
		t.Errorf("expected 60 USD, got %s", l1.BalanceOf("USD", "alice"))
	}
}

func TestExchangeIn_ComposesWithCallerTx(t *testing.T) {
	x, l := newTestExchange(t)
	x.SetPrice("USD", "EUR", d("2"))
	l.Mint("USD", "pool", d("10"))

	tx := l.Begin()
	if _, err := x.ExchangeIn(tx, "USD", "EUR", "pool", d("10")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tx.Rollback()

	if !l.BalanceOf("USD", "pool").Equal(d("10")) {
		t.Errorf("rolled back exchange leaked, USD=%s", l.BalanceOf("USD", "pool"))
	}
}
