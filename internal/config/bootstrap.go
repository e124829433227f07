package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/leverage"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/margin"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pool"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/symbol"
)

//go:embed default.json
var defaultBootstrap []byte

// ErrInvalidBootstrap is returned for bootstrap files that cannot be applied.
var ErrInvalidBootstrap = errors.New("config: invalid bootstrap")

// Bootstrap describes the engine's initial contents.
type Bootstrap struct {
	Currencies []CurrencySeed `json:"currencies"`
	Pools      []PoolSeed        `json:"pools"`
	Classes    []ClassSeed       `json:"classes"`
	Prices     []PriceSeed       `json:"prices"`
	Accounts   []AccountSeed     `json:"accounts"`
}

// CurrencySeed is a currency. Decimals defaults to ledger.DefaultDecimals
// when omitted.
type CurrencySeed struct {
	ID       ledger.CurrencyID `json:"id"`
	Name     string            `json:"name"`
	Symbol   string            `json:"symbol"`
	Decimals *int32            `json:"decimals"`
}

// Currency returns the ledger metadata of the seed.
func (c CurrencySeed) Currency() ledger.Currency {
	dec := ledger.DefaultDecimals
	if c.Decimals != nil {
		dec = *c.Decimals
	}
	return ledger.Currency{ID: c.ID, Name: c.Name, Symbol: c.Symbol, Decimals: dec}
}

// PoolSeed is a pool and its initial funding per currency.
type PoolSeed struct {
	pool.Config
	Funding map[ledger.CurrencyID]decimal.Decimal `json:"funding"`
}

// ClassSeed is a class hedged by Pool. When Ticker is set it supplies base,
// quote and leverage, and the ID defaults to BASEQUOTE{LEV}X.
type ClassSeed struct {
	leverage.Config
	Ticker string `json:"ticker"`
	Pool   string `json:"pool"`
}

// PriceSeed is a seed price.
type PriceSeed struct {
	Base  ledger.CurrencyID `json:"base"`
	Quote ledger.CurrencyID `json:"quote"`
	Price decimal.Decimal   `json:"price"`
}

// AccountSeed seeds account balances.
type AccountSeed struct {
	Account  ledger.Account                        `json:"account"`
	Balances map[ledger.CurrencyID]decimal.Decimal `json:"balances"`
}

// DefaultBootstrap returns the built-in bootstrap.
func DefaultBootstrap() (*Bootstrap, error) {
	return ParseBootstrap(defaultBootstrap)
}

// LoadBootstrap reads the bootstrap at path, or the default when path is
// empty.
func LoadBootstrap(path string) (*Bootstrap, error) {
	if path == "" {
		return DefaultBootstrap()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read bootstrap: %w", err)
	}
	return ParseBootstrap(data)
}

// ParseBootstrap decodes and normalizes a bootstrap document.
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var b Bootstrap
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBootstrap, err)
	}
	for i := range b.Classes {
		if err := b.Classes[i].normalize(); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func (c *ClassSeed) normalize() error {
	if c.Ticker != "" {
		t, err := symbol.Parse(c.Ticker)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBootstrap, err)
		}
		c.Base = ledger.CurrencyID(t.Base)
		c.Quote = ledger.CurrencyID(t.Quote)
		c.Leverage = t.Leverage
		if c.Name == "" {
			c.Name = t.Symbol
		}
	}
	if c.ID == "" {
		if c.Base == "" || c.Quote == "" {
			return fmt.Errorf("%w: class needs an id or a ticker", ErrInvalidBootstrap)
		}
		lev := strings.ReplaceAll(c.Leverage.String(), ".", "P")
		c.ID = ledger.CurrencyID(string(c.Base) + string(c.Quote) + lev + "X")
	}
	if c.Pool == "" {
		return fmt.Errorf("%w: class %s has no pool", ErrInvalidBootstrap, c.ID)
	}
	return nil
}

// Apply loads the bootstrap into e: currencies, pools and their funding,
// classes, seed balances, then prices. It returns the classes created.
func (b *Bootstrap) Apply(e *margin.Engine) ([]model.Class, error) {
	for _, c := range b.Currencies {
		if err := e.RegisterCurrency(c.Currency()); err != nil {
			return nil, err
		}
	}
	for _, p := range b.Pools {
		if err := e.AddPool(p.Config); err != nil {
			return nil, err
		}
		for cur, amt := range p.Funding {
			if err := e.Mint(cur, p.Account, amt); err != nil {
				return nil, fmt.Errorf("fund pool %s: %w", p.ID, err)
			}
		}
	}

	classes := make([]model.Class, 0, len(b.Classes))
	for _, c := range b.Classes {
		cls, err := e.AddClass(c.Config, c.Pool)
		if err != nil {
			return nil, err
		}
		classes = append(classes, cls)
	}

	for _, a := range b.Accounts {
		for cur, amt := range a.Balances {
			if err := e.Mint(cur, a.Account, amt); err != nil {
				return nil, fmt.Errorf("seed %s: %w", a.Account, err)
			}
		}
	}
	for _, p := range b.Prices {
		if _, err := e.SetPrice(p.Base, p.Quote, p.Price); err != nil {
			return nil, fmt.Errorf("seed price %s/%s: %w", p.Base, p.Quote, err)
		}
	}
	return classes, nil
}
