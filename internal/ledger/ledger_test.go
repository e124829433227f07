package ledger

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New()
	for _, c := range []Currency{
		{ID: "USD", Name: "US Dollar", Decimals: 18},
		{ID: "EUR", Name: "Euro", Decimals: 18},
		{ID: "JPY", Name: "Yen", Decimals: 2},
	} {
		if err := l.Register(c); err != nil {
			t.Fatalf("register %s: %v", c.ID, err)
		}
	}
	return l
}

func sumBalances(l *Ledger, cur CurrencyID) decimal.Decimal {
	sum := decimal.Zero
	for _, h := range l.Holders(cur) {
		sum = sum.Add(h.Balance)
	}
	return sum
}

func TestRegister_Duplicate(t *testing.T) {
	l := newTestLedger(t)
	err := l.Register(Currency{ID: "USD"})
	if !errors.Is(err, ErrCurrencyExists) {
		t.Errorf("expected ErrCurrencyExists, got %v", err)
	}
}

func TestRegister_DefaultsDecimalsAndSymbol(t *testing.T) {
	l := New()
	if err := l.Register(Currency{ID: "GBP", Decimals: -1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := l.Currency("GBP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Decimals != DefaultDecimals {
		t.Errorf("expected decimals=%d, got %d", DefaultDecimals, c.Decimals)
	}
	if c.Symbol != "GBP" {
		t.Errorf("expected symbol=GBP, got %s", c.Symbol)
	}
}

func TestBalanceOf_UnknownAccountIsZero(t *testing.T) {
	l := newTestLedger(t)
	if !l.BalanceOf("USD", "nobody").IsZero() {
		t.Error("expected zero balance for unknown account")
	}
	if !l.BalanceOf("XXX", "nobody").IsZero() {
		t.Error("expected zero balance for unknown currency")
	}
}

func TestMint_IncreasesBalanceAndIssuance(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Mint("USD", "alice", d("100")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.BalanceOf("USD", "alice").Equal(d("100")) {
		t.Errorf("expected 100, got %s", l.BalanceOf("USD", "alice"))
	}
	if !l.TotalIssuance("USD").Equal(d("100")) {
		t.Errorf("expected issuance 100, got %s", l.TotalIssuance("USD"))
	}
}

func TestMint_NegativeIsBurn(t *testing.T) {
	l := newTestLedger(t)
	l.Mint("USD", "alice", d("100"))

	if err := l.Mint("USD", "alice", d("-40")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.BalanceOf("USD", "alice").Equal(d("60")) {
		t.Errorf("expected 60, got %s", l.BalanceOf("USD", "alice"))
	}

	err := l.Mint("USD", "alice", d("-61"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestBurn_NegativeIsMint(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Burn("EUR", "bob", d("-25")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.BalanceOf("EUR", "bob").Equal(d("25")) {
		t.Errorf("expected 25, got %s", l.BalanceOf("EUR", "bob"))
	}
	if !l.TotalIssuance("EUR").Equal(d("25")) {
		t.Errorf("expected issuance 25, got %s", l.TotalIssuance("EUR"))
	}
}

func TestBurn_Insufficient(t *testing.T) {
	l := newTestLedger(t)
	l.Mint("USD", "alice", d("10"))

	err := l.Burn("USD", "alice", d("10.000000000000000001"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !l.BalanceOf("USD", "alice").Equal(d("10")) {
		t.Errorf("failed burn must not mutate, got %s", l.BalanceOf("USD", "alice"))
	}
	if !l.TotalIssuance("USD").Equal(d("10")) {
		t.Errorf("failed burn must not mutate issuance, got %s", l.TotalIssuance("USD"))
	}
}

func TestTransfer(t *testing.T) {
	l := newTestLedger(t)
	l.Mint("USD", "alice", d("100"))

	if err := l.Transfer("USD", "alice", "bob", d("30")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.BalanceOf("USD", "alice").Equal(d("70")) {
		t.Errorf("expected alice=70, got %s", l.BalanceOf("USD", "alice"))
	}
	if !l.BalanceOf("USD", "bob").Equal(d("30")) {
		t.Errorf("expected bob=30, got %s", l.BalanceOf("USD", "bob"))
	}
	if !l.TotalIssuance("USD").Equal(d("100")) {
		t.Errorf("transfer must not change issuance, got %s", l.TotalIssuance("USD"))
	}
}

func TestTransfer_InsufficientIsAtomic(t *testing.T) {
	l := newTestLedger(t)
	l.Mint("USD", "alice", d("10"))

	err := l.Transfer("USD", "alice", "bob", d("11"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !l.BalanceOf("USD", "alice").Equal(d("10")) {
		t.Errorf("alice should be untouched, got %s", l.BalanceOf("USD", "alice"))
	}
	if !l.BalanceOf("USD", "bob").IsZero() {
		t.Errorf("bob should be untouched, got %s", l.BalanceOf("USD", "bob"))
	}
}

func TestTransfer_NegativeRejected(t *testing.T) {
	l := newTestLedger(t)
	l.Mint("USD", "alice", d("10"))
	err := l.Transfer("USD", "alice", "bob", d("-1"))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransfer_ToSelf(t *testing.T) {
	l := newTestLedger(t)
	l.Mint("USD", "alice", d("10"))
	if err := l.Transfer("USD", "alice", "alice", d("10")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.BalanceOf("USD", "alice").Equal(d("10")) {
		t.Errorf("expected 10, got %s", l.BalanceOf("USD", "alice"))
	}
	if err := l.Transfer("USD", "alice", "alice", d("11")); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestUnknownCurrency(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Mint("XXX", "alice", d("1")); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("expected ErrUnknownCurrency, got %v", err)
	}
}

func TestQuantizesToCurrencyDecimals(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Mint("JPY", "alice", d("100.129")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.BalanceOf("JPY", "alice").Equal(d("100.12")) {
		t.Errorf("expected 100.12, got %s", l.BalanceOf("JPY", "alice"))
	}
	if !l.TotalIssuance("JPY").Equal(d("100.12")) {
		t.Errorf("expected issuance 100.12, got %s", l.TotalIssuance("JPY"))
	}
}

func TestTx_SequentialValidation(t *testing.T) {
	l := newTestLedger(t)
	l.Mint("USD", "alice", d("10"))

	tx := l.Begin()
	if err := tx.Transfer("USD", "alice", "bob", d("10")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// alice is empty inside the transaction even though the ledger still shows 10.
	if err := tx.Burn("USD", "alice", d("1")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !l.BalanceOf("USD", "bob").IsZero() {
		t.Error("uncommitted transaction leaked into ledger")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !l.BalanceOf("USD", "bob").Equal(d("10")) {
		t.Errorf("expected bob=10, got %s", l.BalanceOf("USD", "bob"))
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxClosed) {
		t.Errorf("expected ErrTxClosed on second commit, got %v", err)
	}
}

func TestTx_RollbackDiscards(t *testing.T) {
	l := newTestLedger(t)
	tx := l.Begin()
	tx.Mint("USD", "alice", d("5"))
	tx.Rollback()

	if !l.BalanceOf("USD", "alice").IsZero() {
		t.Errorf("rollback leaked balance %s", l.BalanceOf("USD", "alice"))
	}
	if !l.TotalIssuance("USD").IsZero() {
		t.Errorf("rollback leaked issuance %s", l.TotalIssuance("USD"))
	}
	if err := tx.Mint("USD", "alice", d("1")); !errors.Is(err, ErrTxClosed) {
		t.Errorf("expected ErrTxClosed, got %v", err)
	}
}

func TestInvariants_RandomSequences(t *testing.T) {
	l := newTestLedger(t)
	rng := rand.New(rand.NewSource(42))
	accounts := []Account{"alice", "bob", "carol", "pool"}
	currencies := []CurrencyID{"USD", "EUR", "JPY"}

	for i := 0; i < 2000; i++ {
		cur := currencies[rng.Intn(len(currencies))]
		a := accounts[rng.Intn(len(accounts))]
		b := accounts[rng.Intn(len(accounts))]
		amt := decimal.New(rng.Int63n(2000000)-500000, -3)

		switch rng.Intn(3) {
		case 0:
			l.Mint(cur, a, amt)
		case 1:
			l.Burn(cur, a, amt)
		case 2:
			l.Transfer(cur, a, b, amt.Abs())
		}

		for _, c := range currencies {
			if sum := sumBalances(l, c); !sum.Equal(l.TotalIssuance(c)) {
				t.Fatalf("step %d: sum(%s)=%s != issuance %s", i, c, sum, l.TotalIssuance(c))
			}
			for _, h := range l.Holders(c) {
				if h.Balance.IsNegative() {
					t.Fatalf("step %d: negative balance %s for %s/%s", i, h.Balance, c, h.Account)
				}
			}
		}
	}
}

func TestRegister_ZeroDecimals(t *testing.T) {
	l := New()
	if err := l.Register(Currency{ID: "KRW", Decimals: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := l.Currency("KRW")
	if c.Decimals != 0 {
		t.Fatalf("expected whole-unit currency, got decimals=%d", c.Decimals)
	}
	if err := l.Mint("KRW", "alice", d("1500.75")); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !l.BalanceOf("KRW", "alice").Equal(d("1500")) {
		t.Errorf("expected 1500 after truncation, got %s", l.BalanceOf("KRW", "alice"))
	}
}
