package pool

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/exchange"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pricefeed"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestPool(t *testing.T) (*Pool, *ledger.Ledger) {
	t.Helper()
	l := ledger.New()
	for _, id := range []ledger.CurrencyID{"USD", "EUR", "rUSD", "rEUR"} {
		if err := l.Register(ledger.Currency{ID: id, Decimals: ledger.DefaultDecimals}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	x := exchange.New(pricefeed.New(), l)
	if _, err := x.SetPrice("rUSD", "rEUR", d("1.25")); err != nil {
		t.Fatalf("set price: %v", err)
	}
	p, err := New(Config{
		ID: "pool-1", Account: "pool",
		Base: "USD", Quote: "EUR", RealBase: "rUSD", RealQuote: "rEUR",
	}, x)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p, l
}

func TestNew_Validation(t *testing.T) {
	x := exchange.New(pricefeed.New(), ledger.New())
	if _, err := New(Config{RealBase: "a", RealQuote: "b"}, x); err == nil {
		t.Error("expected error for missing account")
	}
	if _, err := New(Config{Account: "pool"}, x); err == nil {
		t.Error("expected error for missing real pair")
	}
	p, err := New(Config{Account: "pool", RealBase: "a", RealQuote: "b"}, x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID() != "pool" {
		t.Errorf("expected id to default to account, got %s", p.ID())
	}
}

func TestOnOpenPosition_HedgesProportionally(t *testing.T) {
	p, l := newTestPool(t)
	l.Mint("rUSD", "pool", d("10000"))

	tx := l.Begin()
	if err := p.OnOpenPosition(tx, d("10"), d("100")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tx.Commit()

	exp := p.Exposure()
	if !exp.RealBase.Equal(d("9000")) {
		t.Errorf("expected rUSD=9000, got %s", exp.RealBase)
	}
	if !exp.RealQuote.Equal(d("800")) {
		t.Errorf("expected rEUR=800, got %s", exp.RealQuote)
	}
}

func TestOnClosePosition_UnwindsHedge(t *testing.T) {
	p, l := newTestPool(t)
	l.Mint("rUSD", "pool", d("10000"))

	tx := l.Begin()
	p.OnOpenPosition(tx, d("10"), d("100"))
	if err := p.OnClosePosition(tx, d("10"), d("100")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tx.Commit()

	exp := p.Exposure()
	if !exp.RealBase.Equal(d("10000")) {
		t.Errorf("expected rUSD back to 10000, got %s", exp.RealBase)
	}
	if !exp.RealQuote.IsZero() {
		t.Errorf("expected rEUR=0, got %s", exp.RealQuote)
	}
}

func TestOnOpenPosition_InsufficientRealBase(t *testing.T) {
	p, l := newTestPool(t)
	l.Mint("rUSD", "pool", d("999"))

	tx := l.Begin()
	err := p.OnOpenPosition(tx, d("10"), d("100"))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}
