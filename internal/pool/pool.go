// Package pool implements the liquidity pool that acts as hedge
// counterparty for leveraged classes. Whenever leveraged exposure changes,
// the pool trades proportionally in the backing ("real") market.
package pool

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/exchange"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
)

// Config identifies a pool: its account, the synthetic pair it backs and the
// real pair it hedges in.
type Config struct {
	ID        string            `json:"id"`
	Account   ledger.Account    `json:"account"`
	Base      ledger.CurrencyID `json:"base"`
	Quote     ledger.CurrencyID `json:"quote"`
	RealBase  ledger.CurrencyID `json:"real_base"`
	RealQuote ledger.CurrencyID `json:"real_quote"`
}

// Pool carries no state beyond its identity; its balances live in the
// shared ledger.
type Pool struct {
	cfg      Config
	exchange *exchange.Exchange
}

// Exposure is the pool's holdings in the backing market.
type Exposure struct {
	RealBase  decimal.Decimal `json:"real_base"`
	RealQuote decimal.Decimal `json:"real_quote"`
}

// New creates a pool bound to an exchange.
func New(cfg Config, x *exchange.Exchange) (*Pool, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("pool %s: account is required", cfg.ID)
	}
	if cfg.RealBase == "" || cfg.RealQuote == "" {
		return nil, fmt.Errorf("pool %s: real pair is required", cfg.ID)
	}
	if cfg.ID == "" {
		cfg.ID = string(cfg.Account)
	}
	return &Pool{cfg: cfg, exchange: x}, nil
}

// ID returns the pool identifier.
func (p *Pool) ID() string { return p.cfg.ID }

// Account returns the ledger account of the pool.
func (p *Pool) Account() ledger.Account { return p.cfg.Account }

// Config returns the pool identity.
func (p *Pool) Config() Config { return p.cfg }

// OnOpenPosition hedges newly created leveraged notional by exchanging
// leverage·baseAmount of the real base into the real quote.
func (p *Pool) OnOpenPosition(tx *ledger.Tx, leverage, baseAmount decimal.Decimal) error {
	return p.hedge(tx, leverage.Mul(baseAmount))
}

// OnClosePosition unwinds the hedge for a closed position.
func (p *Pool) OnClosePosition(tx *ledger.Tx, leverage, baseAmount decimal.Decimal) error {
	return p.hedge(tx, leverage.Mul(baseAmount).Neg())
}

func (p *Pool) hedge(tx *ledger.Tx, amount decimal.Decimal) error {
	if _, err := p.exchange.ExchangeIn(tx, p.cfg.RealBase, p.cfg.RealQuote, p.cfg.Account, amount); err != nil {
		return fmt.Errorf("pool %s hedge %s: %w", p.cfg.ID, amount, err)
	}
	return nil
}

// Exposure reads the pool's current real-asset balances.
func (p *Pool) Exposure() Exposure {
	l := p.exchange.Ledger()
	return Exposure{
		RealBase:  l.BalanceOf(p.cfg.RealBase, p.cfg.Account),
		RealQuote: l.BalanceOf(p.cfg.RealQuote, p.cfg.Account),
	}
}
