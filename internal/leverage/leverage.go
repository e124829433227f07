// Package leverage implements leveraged-token classes: the position
// lifecycle engine that owns a class's aggregate collateral, debt and
// holdings, prices its token from net asset value and delegates hedging to
// a liquidity pool.
//
// For a class with collateral C, debt D, holdings H (quote units), current
// price p and token issuance T:
//
//	netHoldings = C + H·p − D
//	tokenPrice  = initialTokenPrice            if T == 0
//	            = netHoldings / T              if netHoldings > 0
//	            = ErrBankruptClass             otherwise
//
// New issuance and withdrawals are always priced against the state as it was
// before the operation mutates anything.
package leverage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/exchange"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/money"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pool"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pricefeed"
)

var (
	// ErrInvalidAmount is returned for non-positive open/close amounts.
	ErrInvalidAmount = errors.New("leverage: amount must be positive")

	// ErrBankruptClass is returned when the class's net asset value is not
	// positive while tokens are outstanding.
	ErrBankruptClass = errors.New("leverage: class is bankrupt")

	// ErrInvalidConfig is returned by New for unusable class parameters.
	ErrInvalidConfig = errors.New("leverage: invalid class configuration")
)

// Config holds the constants of a class.
type Config struct {
	ID                  ledger.CurrencyID `json:"id"` // class token currency
	Name                string            `json:"name"`
	Base                ledger.CurrencyID `json:"base"`
	Quote               ledger.CurrencyID `json:"quote"`
	Leverage            decimal.Decimal   `json:"leverage"`
	BaseCollateralRatio decimal.Decimal   `json:"base_collateral_ratio"`
	InitialTokenPrice   decimal.Decimal   `json:"initial_token_price"`
	Custody             ledger.Account    `json:"custody"`
}

// Class is one leveraged-token class. Not safe for concurrent use; the
// margin engine serializes access.
type Class struct {
	cfg      Config
	ledger   *ledger.Ledger
	exchange *exchange.Exchange
	pool     *pool.Pool

	collateral       decimal.Decimal
	debt             decimal.Decimal
	holdings         decimal.Decimal
	poolContribution decimal.Decimal

	records []model.PositionRecord

	now   func() time.Time
	newID func() string
}

// New validates cfg, registers the class token currency and returns a class
// with zero aggregate state.
func New(cfg Config, x *exchange.Exchange, p *pool.Pool) (*Class, error) {
	switch {
	case cfg.ID == "":
		return nil, fmt.Errorf("%w: id is required", ErrInvalidConfig)
	case cfg.Base == "" || cfg.Quote == "" || cfg.Base == cfg.Quote:
		return nil, fmt.Errorf("%w: %s needs two distinct currencies", ErrInvalidConfig, cfg.ID)
	case !cfg.Leverage.IsPositive():
		return nil, fmt.Errorf("%w: %s leverage must be positive", ErrInvalidConfig, cfg.ID)
	case cfg.BaseCollateralRatio.IsNegative():
		return nil, fmt.Errorf("%w: %s collateral ratio must not be negative", ErrInvalidConfig, cfg.ID)
	case !cfg.InitialTokenPrice.IsPositive():
		return nil, fmt.Errorf("%w: %s initial token price must be positive", ErrInvalidConfig, cfg.ID)
	case p == nil:
		return nil, fmt.Errorf("%w: %s has no liquidity pool", ErrInvalidConfig, cfg.ID)
	}
	if cfg.Custody == "" {
		cfg.Custody = ledger.Account("custody:" + string(cfg.ID))
	}

	l := x.Ledger()
	if _, err := l.Currency(cfg.Base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := l.Register(ledger.Currency{ID: cfg.ID, Name: cfg.Name, Symbol: string(cfg.ID), Decimals: ledger.DefaultDecimals}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Class{
		cfg:      cfg,
		ledger:   l,
		exchange: x,
		pool:     p,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}, nil
}

// ID returns the class token currency.
func (c *Class) ID() ledger.CurrencyID { return c.cfg.ID }

// Config returns the class constants.
func (c *Class) Config() Config { return c.cfg }

// Pool returns the hedge counterparty of the class.
func (c *Class) Pool() *pool.Pool { return c.pool }

// DefaultCollateralRatio is baseCollateralRatio × leverage.
func (c *Class) DefaultCollateralRatio() decimal.Decimal {
	return c.cfg.BaseCollateralRatio.Mul(c.cfg.Leverage)
}

// Collateral returns the aggregate collateral C.
func (c *Class) Collateral() decimal.Decimal { return c.collateral }

// Debt returns the aggregate debt D.
func (c *Class) Debt() decimal.Decimal { return c.debt }

// Holdings returns the aggregate holdings H in quote units.
func (c *Class) Holdings() decimal.Decimal { return c.holdings }

// PoolContribution returns the collateral co-funded by the pool across all
// opens. It is never refunded on close.
func (c *Class) PoolContribution() decimal.Decimal { return c.poolContribution }

// TotalIssuance returns the class token supply T.
func (c *Class) TotalIssuance() decimal.Decimal {
	return c.ledger.TotalIssuance(c.cfg.ID)
}

// BalanceOf returns the class token balance of account.
func (c *Class) BalanceOf(account ledger.Account) decimal.Decimal {
	return c.ledger.BalanceOf(c.cfg.ID, account)
}

// Price returns the current price of base in quote.
func (c *Class) Price() (pricefeed.Rate, error) {
	return c.exchange.GetPrice(c.cfg.Base, c.cfg.Quote)
}

// NetHoldings computes C + H·price − D at the current price.
func (c *Class) NetHoldings() (decimal.Decimal, error) {
	rate, err := c.Price()
	if err != nil {
		return decimal.Zero, err
	}
	return c.netHoldingsAt(rate)
}

func (c *Class) netHoldingsAt(rate pricefeed.Rate) (decimal.Decimal, error) {
	marked, err := rate.MulAmount(c.holdings)
	if err != nil {
		return decimal.Zero, err
	}
	return c.collateral.Add(marked).Sub(c.debt), nil
}

// solventNAV returns the net holdings, failing with ErrBankruptClass when
// they are not positive. Callers must only use it while T > 0.
func (c *Class) solventNAV(rate pricefeed.Rate, issuance decimal.Decimal) (decimal.Decimal, error) {
	nav, err := c.netHoldingsAt(rate)
	if err != nil {
		return decimal.Zero, err
	}
	if !nav.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s net holdings %s with %s tokens outstanding",
			ErrBankruptClass, c.cfg.ID, nav, issuance)
	}
	return nav, nil
}

// TokenPrice returns the price of one class token in base currency.
func (c *Class) TokenPrice() (decimal.Decimal, error) {
	issuance := c.TotalIssuance()
	if issuance.IsZero() {
		return c.cfg.InitialTokenPrice, nil
	}
	rate, err := c.Price()
	if err != nil {
		return decimal.Zero, err
	}
	nav, err := c.solventNAV(rate, issuance)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Div(nav, issuance)
}

// Positions returns a copy of the audit trail.
func (c *Class) Positions() []model.PositionRecord {
	out := make([]model.PositionRecord, len(c.records))
	copy(out, c.records)
	return out
}

// State returns a snapshot of the aggregate state. Price-dependent fields
// are left zero when the price is missing or the class is bankrupt.
func (c *Class) State() model.ClassState {
	s := model.ClassState{
		ClassID:          string(c.cfg.ID),
		Collateral:       c.collateral,
		Debt:             c.debt,
		Holdings:         c.holdings,
		TotalIssuance:    c.TotalIssuance(),
		PoolContribution: c.poolContribution,
		Status:           model.StatusActive,
		UpdatedAt:        c.now(),
	}
	rate, err := c.Price()
	if err != nil {
		s.Status = model.StatusNoPrice
		return s
	}
	s.Price = rate.Value()
	if nav, err := c.netHoldingsAt(rate); err == nil {
		s.NetHoldings = nav
	}
	tp, err := c.TokenPrice()
	if errors.Is(err, ErrBankruptClass) {
		s.Status = model.StatusBankrupt
		return s
	}
	s.TokenPrice = tp
	return s
}
