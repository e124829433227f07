// Package model defines the reporting types shared between the margin
// engine, the store and the HTTP layer.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionRecord is an immutable audit entry appended when a position is
// opened. Closing never looks records up or removes them; they exist for
// reporting only.
type PositionRecord struct {
	ID             string          `json:"id" db:"id"`
	ClassID        string          `json:"class_id" db:"class_id"`
	Account        string          `json:"account" db:"account"`
	Collateral     decimal.Decimal `json:"collateral" db:"collateral"`           // posted by the account
	PoolCollateral decimal.Decimal `json:"pool_collateral" db:"pool_collateral"` // co-funded by the pool, never refunded
	Debt           decimal.Decimal `json:"debt" db:"debt"`
	Holdings       decimal.Decimal `json:"holdings" db:"holdings"` // quote currency units
	TokenAmount    decimal.Decimal `json:"token_amount" db:"token_amount"`
	OpenPrice      decimal.Decimal `json:"open_price" db:"open_price"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// Class describes one leveraged-token class (leverage × currency pair).
type Class struct {
	ID                  string          `json:"id" db:"id"`
	Base                string          `json:"base" db:"base"`
	Quote               string          `json:"quote" db:"quote"`
	Leverage            decimal.Decimal `json:"leverage" db:"leverage"`
	BaseCollateralRatio decimal.Decimal `json:"base_collateral_ratio" db:"base_collateral_ratio"`
	InitialTokenPrice   decimal.Decimal `json:"initial_token_price" db:"initial_token_price"`
	PoolID              string          `json:"pool_id" db:"pool_id"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// ClassState is a consistent snapshot of a class's aggregate state.
// TokenPrice and NetHoldings are zero when the price is unavailable or the
// class is bankrupt; Status says which.
type ClassState struct {
	ClassID          string          `json:"class_id" db:"class_id"`
	Collateral       decimal.Decimal `json:"collateral" db:"collateral"`
	Debt             decimal.Decimal `json:"debt" db:"debt"`
	Holdings         decimal.Decimal `json:"holdings" db:"holdings"`
	TotalIssuance    decimal.Decimal `json:"total_issuance" db:"total_issuance"`
	PoolContribution decimal.Decimal `json:"pool_contribution" db:"pool_contribution"`
	Price            decimal.Decimal `json:"price" db:"price"`
	NetHoldings      decimal.Decimal `json:"net_holdings" db:"net_holdings"`
	TokenPrice       decimal.Decimal `json:"token_price" db:"token_price"`
	Status           string          `json:"status" db:"status"` // "active", "no_price", "bankrupt", "halted"
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Class status values.
const (
	StatusActive   = "active"
	StatusNoPrice  = "no_price"
	StatusBankrupt = "bankrupt"
	StatusHalted   = "halted"
)

// PriceUpdate is one oracle price push, kept for history queries.
type PriceUpdate struct {
	Base      string          `json:"base" db:"base"`
	Quote     string          `json:"quote" db:"quote"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
