package leverage

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/money"
)

// OpenPosition posts baseAmount of base currency from account as collateral
// and issues class tokens for it. Returns the number of tokens minted.
func (c *Class) OpenPosition(account ledger.Account, baseAmount decimal.Decimal) (decimal.Decimal, error) {
	rec, err := c.Open(account, baseAmount)
	if err != nil {
		return decimal.Zero, err
	}
	return rec.TokenAmount, nil
}

// Open is OpenPosition returning the audit record appended for the position.
//
// The pool co-funds baseAmount × defaultCollateralRatio of collateral and
// hedges leverage × baseAmount in the backing market. Either every ledger
// effect applies or none does.
func (c *Class) Open(account ledger.Account, baseAmount decimal.Decimal) (model.PositionRecord, error) {
	baseAmount, err := c.quantize(c.cfg.Base, baseAmount)
	if err != nil {
		return model.PositionRecord{}, err
	}
	if !baseAmount.IsPositive() {
		return model.PositionRecord{}, fmt.Errorf("%w: open %s with %s", ErrInvalidAmount, c.cfg.ID, baseAmount)
	}

	rate, err := c.Price()
	if err != nil {
		return model.PositionRecord{}, err
	}

	// Price the issuance against the pre-mutation state.
	var tokenAmount decimal.Decimal
	issuance := c.TotalIssuance()
	if issuance.IsZero() {
		tokenAmount, err = money.DivDown(baseAmount, c.cfg.InitialTokenPrice)
	} else {
		var nav decimal.Decimal
		if nav, err = c.solventNAV(rate, issuance); err != nil {
			return model.PositionRecord{}, err
		}
		tokenAmount, err = money.MulDivDown(baseAmount, issuance, nav)
	}
	if err != nil {
		return model.PositionRecord{}, err
	}
	if tokenAmount, err = c.quantize(c.cfg.ID, tokenAmount); err != nil {
		return model.PositionRecord{}, err
	}
	if !tokenAmount.IsPositive() {
		return model.PositionRecord{}, fmt.Errorf("%w: %s %s buys no %s tokens", ErrInvalidAmount, baseAmount, c.cfg.Base, c.cfg.ID)
	}

	additional, err := money.Mul(baseAmount, c.DefaultCollateralRatio())
	if err != nil {
		return model.PositionRecord{}, err
	}
	if additional, err = c.quantize(c.cfg.Base, additional); err != nil {
		return model.PositionRecord{}, err
	}
	debtDelta, err := money.Mul(c.cfg.Leverage, baseAmount)
	if err != nil {
		return model.PositionRecord{}, err
	}
	holdingsDelta, err := rate.DivAmount(debtDelta)
	if err != nil {
		return model.PositionRecord{}, err
	}

	newCollateral := c.collateral.Add(baseAmount)
	newDebt := c.debt.Add(debtDelta)
	newHoldings := c.holdings.Add(holdingsDelta)
	for _, v := range []decimal.Decimal{newCollateral, newDebt, newHoldings} {
		if err := money.Check(v); err != nil {
			return model.PositionRecord{}, err
		}
	}

	tx := c.ledger.Begin()
	defer tx.Rollback()

	if err := tx.Transfer(c.cfg.Base, account, c.cfg.Custody, baseAmount); err != nil {
		return model.PositionRecord{}, err
	}
	if err := tx.Transfer(c.cfg.Base, c.pool.Account(), c.cfg.Custody, additional); err != nil {
		return model.PositionRecord{}, fmt.Errorf("pool %s collateral: %w", c.pool.ID(), err)
	}
	if err := tx.Mint(c.cfg.ID, account, tokenAmount); err != nil {
		return model.PositionRecord{}, err
	}
	if err := c.pool.OnOpenPosition(tx, c.cfg.Leverage, baseAmount); err != nil {
		return model.PositionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.PositionRecord{}, err
	}

	c.collateral = newCollateral
	c.debt = newDebt
	c.holdings = newHoldings
	c.poolContribution = c.poolContribution.Add(additional)

	rec := model.PositionRecord{
		ID:             c.newID(),
		ClassID:        string(c.cfg.ID),
		Account:        string(account),
		Collateral:     baseAmount,
		PoolCollateral: additional,
		Debt:           debtDelta,
		Holdings:       holdingsDelta,
		TokenAmount:    tokenAmount,
		OpenPrice:      rate.Value(),
		Timestamp:      c.now(),
	}
	c.records = append(c.records, rec)

	return rec, nil
}

// ClosePosition redeems tokenAmount class tokens held by account for base
// currency at the current token price and scales the aggregate state down
// proportionally. Returns the base amount withdrawn.
//
// The collateral the pool co-funded at open time is not returned to it.
func (c *Class) ClosePosition(account ledger.Account, tokenAmount decimal.Decimal) (decimal.Decimal, error) {
	tokenAmount, err := c.quantize(c.cfg.ID, tokenAmount)
	if err != nil {
		return decimal.Zero, err
	}
	if !tokenAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: close %s with %s", ErrInvalidAmount, c.cfg.ID, tokenAmount)
	}
	if bal := c.BalanceOf(account); tokenAmount.GreaterThan(bal) {
		return decimal.Zero, fmt.Errorf("%w: %s holds %s %s, closing %s",
			ledger.ErrInsufficientBalance, account, bal, c.cfg.ID, tokenAmount)
	}

	rate, err := c.Price()
	if err != nil {
		return decimal.Zero, err
	}

	// Price the withdrawal against the pre-mutation state.
	issuance := c.TotalIssuance()
	nav, err := c.solventNAV(rate, issuance)
	if err != nil {
		return decimal.Zero, err
	}
	withdrawAmount, err := money.MulDivDown(tokenAmount, nav, issuance)
	if err != nil {
		return decimal.Zero, err
	}
	if withdrawAmount, err = c.quantize(c.cfg.Base, withdrawAmount); err != nil {
		return decimal.Zero, err
	}

	// Scaling by (T − tokenAmount)/T keeps a full close exact: the sole
	// holder leaves C, D and H at zero.
	remaining := issuance.Sub(tokenAmount)
	newCollateral, err := money.MulDiv(c.collateral, remaining, issuance)
	if err != nil {
		return decimal.Zero, err
	}
	newDebt, err := money.MulDiv(c.debt, remaining, issuance)
	if err != nil {
		return decimal.Zero, err
	}
	newHoldings, err := money.MulDiv(c.holdings, remaining, issuance)
	if err != nil {
		return decimal.Zero, err
	}

	tx := c.ledger.Begin()
	defer tx.Rollback()

	if err := tx.Transfer(c.cfg.Base, c.cfg.Custody, account, withdrawAmount); err != nil {
		return decimal.Zero, fmt.Errorf("custody %s: %w", c.cfg.Custody, err)
	}
	if err := tx.Burn(c.cfg.ID, account, tokenAmount); err != nil {
		return decimal.Zero, err
	}
	if err := c.pool.OnClosePosition(tx, c.cfg.Leverage, withdrawAmount); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}

	c.collateral = newCollateral
	c.debt = newDebt
	c.holdings = newHoldings

	return withdrawAmount, nil
}

func (c *Class) quantize(cur ledger.CurrencyID, v decimal.Decimal) (decimal.Decimal, error) {
	meta, err := c.ledger.Currency(cur)
	if err != nil {
		return decimal.Zero, err
	}
	if err := money.Check(v); err != nil {
		return decimal.Zero, err
	}
	return money.Quantize(v, meta.Decimals), nil
}
