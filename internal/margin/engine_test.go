package margin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/leverage"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/limits"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pool"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pricefeed"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingReporter struct {
	mu     sync.Mutex
	states []model.ClassState
}

func (r *recordingReporter) ClassBankrupt(state model.ClassState, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

const class ledger.CurrencyID = "USDEUR10X"

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	e := New(opts...)
	for _, id := range []ledger.CurrencyID{"USD", "EUR"} {
		if err := e.RegisterCurrency(ledger.Currency{ID: id, Decimals: ledger.DefaultDecimals}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := e.AddPool(pool.Config{
		ID: "pool-1", Account: "pool",
		Base: "USD", Quote: "EUR", RealBase: "USD", RealQuote: "EUR",
	}); err != nil {
		t.Fatalf("add pool: %v", err)
	}
	if _, err := e.AddClass(leverage.Config{
		ID:                  class,
		Base:                "USD",
		Quote:               "EUR",
		Leverage:            d("10"),
		BaseCollateralRatio: d("0.1"),
		InitialTokenPrice:   d("1"),
	}, "pool-1"); err != nil {
		t.Fatalf("add class: %v", err)
	}
	mustMint(t, e, "USD", "pool", "1000000")
	mustMint(t, e, "EUR", "pool", "1000000")
	mustMint(t, e, "USD", "alice", "1000")
	mustMint(t, e, "USD", "bob", "1000")
	return e
}

func mustMint(t *testing.T, e *Engine, cur ledger.CurrencyID, acct ledger.Account, amt string) {
	t.Helper()
	if err := e.Mint(cur, acct, d(amt)); err != nil {
		t.Fatalf("mint %s %s: %v", cur, acct, err)
	}
}

func mustSetPrice(t *testing.T, e *Engine, price string) {
	t.Helper()
	if _, err := e.SetPrice("USD", "EUR", d(price)); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

func TestAddPool_Duplicate(t *testing.T) {
	e := newTestEngine(t)
	err := e.AddPool(pool.Config{ID: "pool-1", Account: "other", Base: "USD", Quote: "EUR", RealBase: "USD", RealQuote: "EUR"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestAddPool_UnknownCurrency(t *testing.T) {
	e := newTestEngine(t)
	err := e.AddPool(pool.Config{ID: "pool-2", Account: "p2", Base: "USD", Quote: "JPY", RealBase: "USD", RealQuote: "JPY"})
	if !errors.Is(err, ledger.ErrUnknownCurrency) {
		t.Errorf("expected ErrUnknownCurrency, got %v", err)
	}
}

func TestAddClass_UnknownPool(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.AddClass(leverage.Config{
		ID: "USDEUR5X", Base: "USD", Quote: "EUR",
		Leverage: d("5"), BaseCollateralRatio: d("0.1"), InitialTokenPrice: d("1"),
	}, "missing")
	if !errors.Is(err, ErrUnknownPool) {
		t.Errorf("expected ErrUnknownPool, got %v", err)
	}
}

func TestClasses_Sorted(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AddClass(leverage.Config{
		ID: "USDEUR05X", Base: "USD", Quote: "EUR",
		Leverage: d("5"), BaseCollateralRatio: d("0.1"), InitialTokenPrice: d("1"),
	}, "pool-1"); err != nil {
		t.Fatalf("add class: %v", err)
	}
	classes := e.Classes()
	if len(classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(classes))
	}
	if classes[0].ID != "USDEUR05X" || classes[1].ID != "USDEUR10X" {
		t.Errorf("unexpected order: %s, %s", classes[0].ID, classes[1].ID)
	}
	if classes[1].PoolID != "pool-1" {
		t.Errorf("expected pool-1, got %s", classes[1].PoolID)
	}
}

func TestGetPrice_Reciprocal(t *testing.T) {
	e := newTestEngine(t)
	mustSetPrice(t, e, "1.2")

	ue, err := e.GetPrice("USD", "EUR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	eu, err := e.GetPrice("EUR", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inv := eu.Inverse()
	if !ue.Num.Equal(inv.Num) || !ue.Den.Equal(inv.Den) {
		t.Errorf("expected exact reciprocal, got %v and %v", ue, eu)
	}
	if _, err := e.GetPrice("USD", "JPY"); !errors.Is(err, pricefeed.ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
}

func TestExchange(t *testing.T) {
	e := newTestEngine(t)
	mustSetPrice(t, e, "1.25")

	out, err := e.Exchange("USD", "EUR", "alice", d("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Equal(d("80")) {
		t.Errorf("expected 80 EUR, got %s", out)
	}
	if !e.BalanceOf("USD", "alice").Equal(d("900")) {
		t.Errorf("expected alice USD=900, got %s", e.BalanceOf("USD", "alice"))
	}
	bals := e.Balances("alice")
	if len(bals) != 2 || !bals["EUR"].Equal(d("80")) {
		t.Errorf("unexpected balances %v", bals)
	}
}

func TestOpenClose_ThroughEngine(t *testing.T) {
	e := newTestEngine(t)
	mustSetPrice(t, e, "1.2")

	rec, err := e.OpenPosition(class, "alice", d("100"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tokens := rec.TokenAmount
	if !tokens.Equal(d("100")) {
		t.Errorf("expected 100 tokens, got %s", tokens)
	}
	if !e.TotalIssuance(class).Equal(d("100")) {
		t.Errorf("expected issuance 100, got %s", e.TotalIssuance(class))
	}
	recs, err := e.Positions(class)
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d (%v)", len(recs), err)
	}
	if recs[0].ID != rec.ID || rec.Account != "alice" || !rec.Collateral.Equal(d("100")) {
		t.Errorf("returned record %+v does not match stored %+v", rec, recs[0])
	}

	withdrawn, err := e.ClosePosition(class, "alice", tokens)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !e.BalanceOf("USD", "alice").Equal(d("900").Add(withdrawn)) {
		t.Errorf("expected alice to receive %s", withdrawn)
	}
	s, err := e.ClassState(class)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !s.Collateral.IsZero() || !s.Debt.IsZero() || !s.Holdings.IsZero() {
		t.Errorf("expected empty class after full close, got %+v", s)
	}
}

func TestUnknownClass(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.OpenPosition("NOPE", "alice", d("1")); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("open: expected ErrUnknownClass, got %v", err)
	}
	if _, err := e.ClosePosition("NOPE", "alice", d("1")); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("close: expected ErrUnknownClass, got %v", err)
	}
	if _, err := e.ClassState("NOPE"); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("state: expected ErrUnknownClass, got %v", err)
	}
	if err := e.Remediate("NOPE"); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("remediate: expected ErrUnknownClass, got %v", err)
	}
}

// --- Bankruptcy halting ---

func TestSetPrice_HaltsBankruptClass(t *testing.T) {
	rep := &recordingReporter{}
	e := newTestEngine(t, WithReporter(rep))
	mustSetPrice(t, e, "1.2")
	if _, err := e.OpenPosition(class, "alice", d("100")); err != nil {
		t.Fatalf("open: %v", err)
	}

	mustSetPrice(t, e, "1")

	if !e.Halted(class) {
		t.Fatal("expected class to be halted after adverse price")
	}
	if rep.count() != 1 {
		t.Fatalf("expected 1 bankruptcy report, got %d", rep.count())
	}
	if rep.states[0].ClassID != string(class) || rep.states[0].Status != model.StatusHalted {
		t.Errorf("unexpected report %+v", rep.states[0])
	}
	s, _ := e.ClassState(class)
	if s.Status != model.StatusHalted {
		t.Errorf("expected status halted, got %s", s.Status)
	}

	_, err := e.OpenPosition(class, "bob", d("10"))
	if !errors.Is(err, ErrClassHalted) || !errors.Is(err, leverage.ErrBankruptClass) {
		t.Errorf("open: expected ErrClassHalted wrapping ErrBankruptClass, got %v", err)
	}
	if _, err := e.ClosePosition(class, "alice", d("10")); !errors.Is(err, ErrClassHalted) {
		t.Errorf("close: expected ErrClassHalted, got %v", err)
	}
	if _, err := e.TokenPrice(class); !errors.Is(err, ErrClassHalted) {
		t.Errorf("token price: expected ErrClassHalted, got %v", err)
	}

	// Further price moves do not report again.
	mustSetPrice(t, e, "0.9")
	if rep.count() != 1 {
		t.Errorf("expected a single report, got %d", rep.count())
	}
}

func TestRemediate(t *testing.T) {
	e := newTestEngine(t)
	mustSetPrice(t, e, "1.2")
	if _, err := e.OpenPosition(class, "alice", d("100")); err != nil {
		t.Fatalf("open: %v", err)
	}
	mustSetPrice(t, e, "1")

	if err := e.Remediate(class); !errors.Is(err, leverage.ErrBankruptClass) {
		t.Fatalf("remediate while insolvent: expected ErrBankruptClass, got %v", err)
	}
	if !e.Halted(class) {
		t.Fatal("class must stay halted")
	}

	mustSetPrice(t, e, "1.212")
	if !e.Halted(class) {
		t.Fatal("a recovering price alone must not lift the halt")
	}
	if err := e.Remediate(class); err != nil {
		t.Fatalf("remediate: %v", err)
	}
	if e.Halted(class) {
		t.Fatal("expected class to be active after remediation")
	}
	if _, err := e.OpenPosition(class, "bob", d("10")); err != nil {
		t.Errorf("open after remediation: %v", err)
	}
	if err := e.Remediate(class); err != nil {
		t.Errorf("remediate on active class should be a no-op, got %v", err)
	}
}

func TestSetPrice_InverseDirectionHalts(t *testing.T) {
	rep := &recordingReporter{}
	e := newTestEngine(t, WithReporter(rep))
	mustSetPrice(t, e, "1.2")
	if _, err := e.OpenPosition(class, "alice", d("100")); err != nil {
		t.Fatalf("open: %v", err)
	}
	// Reprice the inverse direction: the sweep matches the canonical pair.
	if _, err := e.SetPrice("EUR", "USD", d("1")); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if !e.Halted(class) || rep.count() != 1 {
		t.Errorf("expected halt via inverse-direction price, halted=%v reports=%d", e.Halted(class), rep.count())
	}
}

// --- Limits ---

func TestOpenPosition_ExposureLimit(t *testing.T) {
	e := newTestEngine(t, WithLimiter(limits.NewExposureLimiter(d("500"), decimal.Zero)))
	mustSetPrice(t, e, "1.2")

	if _, err := e.OpenPosition(class, "alice", d("40")); err != nil {
		t.Fatalf("open within limit: %v", err)
	}
	before := e.BalanceOf("USD", "alice")
	_, err := e.OpenPosition(class, "alice", d("20"))
	if !errors.Is(err, limits.ErrPerClassLimitExceeded) {
		t.Fatalf("expected ErrPerClassLimitExceeded, got %v", err)
	}
	if !e.BalanceOf("USD", "alice").Equal(before) {
		t.Error("rejected open must not move funds")
	}
	// Other accounts have their own allowance.
	if _, err := e.OpenPosition(class, "bob", d("40")); err != nil {
		t.Errorf("bob open: %v", err)
	}
}

// --- Concurrency ---

func TestConcurrentOpenClose(t *testing.T) {
	e := newTestEngine(t)
	mustSetPrice(t, e, "1.2")

	const workers = 8
	for i := 0; i < workers; i++ {
		mustMint(t, e, "USD", ledger.Account(fmt.Sprintf("trader-%d", i)), "100")
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(acct ledger.Account) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				rec, err := e.OpenPosition(class, acct, d("10"))
				if err != nil {
					errs <- err
					return
				}
				if rec.Account != string(acct) {
					errs <- fmt.Errorf("open for %s returned record of %s", acct, rec.Account)
					return
				}
				if _, err := e.ClosePosition(class, acct, rec.TokenAmount); err != nil {
					errs <- err
					return
				}
				_ = e.BalanceOf(class, acct)
				_, _ = e.ClassState(class)
			}
		}(ledger.Account(fmt.Sprintf("trader-%d", i)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent op failed: %v", err)
	}

	if !e.TotalIssuance(class).IsZero() {
		t.Errorf("expected zero issuance, got %s", e.TotalIssuance(class))
	}
	s, _ := e.ClassState(class)
	if !s.Collateral.IsZero() || !s.Debt.IsZero() || !s.Holdings.IsZero() {
		t.Errorf("expected empty aggregates, got C=%s D=%s H=%s", s.Collateral, s.Debt, s.Holdings)
	}
}
