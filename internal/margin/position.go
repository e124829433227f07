package margin

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/limits"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/metrics"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pricefeed"
)

// OpenPosition posts baseAmount of the class's base currency from account
// and returns the audit record of the position, including the class tokens
// issued.
func (e *Engine) OpenPosition(classID ledger.CurrencyID, account ledger.Account, baseAmount decimal.Decimal) (rec model.PositionRecord, err error) {
	start := time.Now()
	defer func() {
		if !errors.Is(err, ErrUnknownClass) {
			metrics.ObservePosition(string(classID), "open", start, err)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	ce, err := e.entry(classID)
	if err != nil {
		return model.PositionRecord{}, err
	}
	if ce.halted {
		return model.PositionRecord{}, ErrClassHalted
	}
	if e.limiter != nil && baseAmount.IsPositive() {
		if err := e.checkLimit(ce, account, baseAmount); err != nil {
			metrics.LimitRejections.Inc()
			e.log.Warn("position rejected by exposure limit",
				"class", ce.meta.ID,
				"account", account,
				"amount", baseAmount.String(),
				"err", err,
			)
			return model.PositionRecord{}, err
		}
	}

	rec, err = ce.class.Open(account, baseAmount)
	if err != nil {
		e.observe(ce, err)
		return model.PositionRecord{}, err
	}
	e.refreshTokenPrice(ce)
	e.log.Info("position opened",
		"class", ce.meta.ID,
		"account", account,
		"collateral", baseAmount.String(),
		"tokens", rec.TokenAmount.String(),
	)
	return rec, nil
}

// ClosePosition redeems tokenAmount class tokens held by account and returns
// the base currency withdrawn.
func (e *Engine) ClosePosition(classID ledger.CurrencyID, account ledger.Account, tokenAmount decimal.Decimal) (withdrawn decimal.Decimal, err error) {
	start := time.Now()
	defer func() {
		if !errors.Is(err, ErrUnknownClass) {
			metrics.ObservePosition(string(classID), "close", start, err)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	ce, err := e.entry(classID)
	if err != nil {
		return decimal.Zero, err
	}
	if ce.halted {
		return decimal.Zero, ErrClassHalted
	}

	withdrawn, err = ce.class.ClosePosition(account, tokenAmount)
	if err != nil {
		e.observe(ce, err)
		return decimal.Zero, err
	}
	e.refreshTokenPrice(ce)
	e.log.Info("position closed",
		"class", ce.meta.ID,
		"account", account,
		"tokens", tokenAmount.String(),
		"withdrawn", withdrawn.String(),
	)
	return withdrawn, nil
}

// TokenPrice returns the current price of one class token in base currency.
// Observing bankruptcy here halts the class.
func (e *Engine) TokenPrice(classID ledger.CurrencyID) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ce, err := e.entry(classID)
	if err != nil {
		return decimal.Zero, err
	}
	if ce.halted {
		return decimal.Zero, ErrClassHalted
	}
	tp, err := ce.class.TokenPrice()
	if err != nil {
		e.observe(ce, err)
		return decimal.Zero, err
	}
	return tp, nil
}

// ClassState returns a snapshot of a class's aggregates.
func (e *Engine) ClassState(classID ledger.CurrencyID) (model.ClassState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ce, err := e.entry(classID)
	if err != nil {
		return model.ClassState{}, err
	}
	s := ce.class.State()
	if ce.halted {
		s.Status = model.StatusHalted
	}
	return s, nil
}

// Class returns the metadata of one class.
func (e *Engine) Class(classID ledger.CurrencyID) (model.Class, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ce, err := e.entry(classID)
	if err != nil {
		return model.Class{}, err
	}
	return ce.meta, nil
}

// Positions returns the audit records of a class in open order.
func (e *Engine) Positions(classID ledger.CurrencyID) ([]model.PositionRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ce, err := e.entry(classID)
	if err != nil {
		return nil, err
	}
	return ce.class.Positions(), nil
}

// Halted reports whether a class is halted.
func (e *Engine) Halted(classID ledger.CurrencyID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ce, ok := e.classes[classID]
	return ok && ce.halted
}

// Remediate lifts the halt on a class once its net asset value is positive
// again, or it has no tokens outstanding. It is a no-op for active classes.
func (e *Engine) Remediate(classID ledger.CurrencyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ce, err := e.entry(classID)
	if err != nil {
		return err
	}
	if !ce.halted {
		return nil
	}
	if _, err := ce.class.TokenPrice(); err != nil {
		return fmt.Errorf("remediate %s: %w", classID, err)
	}

	ce.halted = false
	metrics.ClassBankrupt.WithLabelValues(ce.meta.ID).Set(0)
	e.refreshTokenPrice(ce)
	e.log.Info("leveraged class remediated", "class", ce.meta.ID)
	return nil
}

func (e *Engine) refreshTokenPrice(ce *classEntry) {
	if tp, err := ce.class.TokenPrice(); err == nil {
		metrics.ClassTokenPrice.WithLabelValues(ce.meta.ID).Set(tp.InexactFloat64())
	}
}

// checkLimit applies the exposure limiter to an open of baseAmount. Notional
// is measured as leverage × collateral value in base currency.
func (e *Engine) checkLimit(ce *classEntry, account ledger.Account, baseAmount decimal.Decimal) error {
	cfg := ce.class.Config()
	delta := limits.Exposure{
		ClassID:  ce.meta.ID,
		Pair:     pricefeed.NewPair(cfg.Base, cfg.Quote).String(),
		Notional: cfg.Leverage.Mul(baseAmount),
	}

	var existing []limits.Exposure
	for _, other := range e.classes {
		bal := other.class.BalanceOf(account)
		if !bal.IsPositive() {
			continue
		}
		tp, err := other.class.TokenPrice()
		if err != nil {
			continue
		}
		ocfg := other.class.Config()
		existing = append(existing, limits.Exposure{
			ClassID:  other.meta.ID,
			Pair:     pricefeed.NewPair(ocfg.Base, ocfg.Quote).String(),
			Notional: ocfg.Leverage.Mul(bal).Mul(tp),
		})
	}
	return e.limiter.CheckLimit(delta, existing)
}
