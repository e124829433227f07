// Package margin is the serialized entry point to the leveraged-asset
// engine. It wires the ledger, price feed, exchange, liquidity pools and
// leveraged classes together and executes every call as one atomic step
// behind a single lock: readers only ever observe fully applied states.
//
// A class whose net asset value is found non-positive while tokens are
// outstanding is halted. Halted classes reject every price-dependent
// operation until an operator calls Remediate.
package margin

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/exchange"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/leverage"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/limits"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/metrics"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pool"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pricefeed"
)

var (
	// ErrClassHalted is returned for operations on a class halted as
	// bankrupt. It wraps leverage.ErrBankruptClass.
	ErrClassHalted = fmt.Errorf("margin: class halted: %w", leverage.ErrBankruptClass)

	ErrUnknownClass = errors.New("margin: unknown class")
	ErrUnknownPool  = errors.New("margin: unknown pool")
	ErrDuplicate    = errors.New("margin: already exists")
)

// BankruptcyReporter is notified the moment a class is halted. It is called
// with the engine lock held and must not call back into the engine.
type BankruptcyReporter interface {
	ClassBankrupt(state model.ClassState, cause error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithLimiter enables exposure limits on opens.
func WithLimiter(l *limits.ExposureLimiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithReporter sets the bankruptcy reporter.
func WithReporter(r BankruptcyReporter) Option {
	return func(e *Engine) { e.reporter = r }
}

type classEntry struct {
	class  *leverage.Class
	meta   model.Class
	halted bool
}

// Engine serializes all access to the margin model.
type Engine struct {
	mu       sync.RWMutex
	ledger   *ledger.Ledger
	feed     *pricefeed.Feed
	exchange *exchange.Exchange
	pools    map[string]*pool.Pool
	classes  map[ledger.CurrencyID]*classEntry

	limiter  *limits.ExposureLimiter
	reporter BankruptcyReporter
	log      *slog.Logger
}

// New creates an engine with an empty ledger and price feed.
func New(opts ...Option) *Engine {
	l := ledger.New()
	feed := pricefeed.New()
	e := &Engine{
		ledger:   l,
		feed:     feed,
		exchange: exchange.New(feed, l),
		pools:    make(map[string]*pool.Pool),
		classes:  make(map[ledger.CurrencyID]*classEntry),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// --- Administration ---

// RegisterCurrency adds a currency to the ledger.
func (e *Engine) RegisterCurrency(c ledger.Currency) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ledger.Register(c); err != nil {
		return err
	}
	e.log.Info("currency registered", "currency", c.ID, "decimals", c.Decimals)
	return nil
}

// AddPool creates a liquidity pool.
func (e *Engine) AddPool(cfg pool.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := pool.New(cfg, e.exchange)
	if err != nil {
		return err
	}
	if _, ok := e.pools[p.ID()]; ok {
		return fmt.Errorf("%w: pool %s", ErrDuplicate, p.ID())
	}
	for _, cur := range []ledger.CurrencyID{cfg.RealBase, cfg.RealQuote} {
		if _, err := e.ledger.Currency(cur); err != nil {
			return fmt.Errorf("pool %s: %w", p.ID(), err)
		}
	}
	e.pools[p.ID()] = p
	e.log.Info("liquidity pool added",
		"pool", p.ID(),
		"account", cfg.Account,
		"real_pair", string(cfg.RealBase)+"/"+string(cfg.RealQuote),
	)
	return nil
}

// AddClass creates a leveraged class hedged by the given pool.
func (e *Engine) AddClass(cfg leverage.Config, poolID string) (model.Class, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[poolID]
	if !ok {
		return model.Class{}, fmt.Errorf("%w: %s", ErrUnknownPool, poolID)
	}
	if _, ok := e.classes[cfg.ID]; ok {
		return model.Class{}, fmt.Errorf("%w: class %s", ErrDuplicate, cfg.ID)
	}
	c, err := leverage.New(cfg, e.exchange, p)
	if err != nil {
		return model.Class{}, err
	}

	meta := model.Class{
		ID:                  string(cfg.ID),
		Base:                string(cfg.Base),
		Quote:               string(cfg.Quote),
		Leverage:            cfg.Leverage,
		BaseCollateralRatio: cfg.BaseCollateralRatio,
		InitialTokenPrice:   cfg.InitialTokenPrice,
		PoolID:              poolID,
		CreatedAt:           time.Now().UTC(),
	}
	e.classes[cfg.ID] = &classEntry{class: c, meta: meta}
	metrics.ClassBankrupt.WithLabelValues(meta.ID).Set(0)
	e.log.Info("leveraged class added",
		"class", meta.ID,
		"leverage", cfg.Leverage.String(),
		"collateral_ratio", c.DefaultCollateralRatio().String(),
		"pool", poolID,
	)
	return meta, nil
}

// Mint credits an account directly, e.g. for deposits or pool funding.
func (e *Engine) Mint(cur ledger.CurrencyID, account ledger.Account, amount decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Mint(cur, account, amount)
}

// Transfer moves a balance between accounts.
func (e *Engine) Transfer(cur ledger.CurrencyID, from, to ledger.Account, amount decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Transfer(cur, from, to, amount)
}

// --- Prices and conversion ---

// SetPrice records an oracle price and returns the stored entry in canonical
// direction. Classes on the repriced pair are checked for solvency
// immediately so that bankruptcy surfaces without waiting for the next trade.
func (e *Engine) SetPrice(base, quote ledger.CurrencyID, price decimal.Decimal) (pricefeed.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.feed.SetPrice(base, quote, price)
	if err != nil {
		return pricefeed.Entry{}, err
	}
	pair := entry.Pair
	metrics.PriceUpdatesTotal.WithLabelValues(pair.String()).Inc()

	for _, ce := range e.classes {
		cfg := ce.class.Config()
		if ce.halted || pricefeed.NewPair(cfg.Base, cfg.Quote).String() != pair.String() {
			continue
		}
		tp, err := ce.class.TokenPrice()
		if errors.Is(err, leverage.ErrBankruptClass) {
			e.halt(ce, err)
			continue
		}
		if err == nil {
			metrics.ClassTokenPrice.WithLabelValues(ce.meta.ID).Set(tp.InexactFloat64())
		}
	}
	return entry, nil
}

// GetPrice returns the current price of base in quote.
func (e *Engine) GetPrice(base, quote ledger.CurrencyID) (pricefeed.Rate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feed.GetPrice(base, quote)
}

// Prices returns all stored prices.
func (e *Engine) Prices() []pricefeed.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feed.Prices()
}

// Exchange converts baseAmount of base held by account into quote.
func (e *Engine) Exchange(base, quote ledger.CurrencyID, account ledger.Account, baseAmount decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := e.exchange.Exchange(base, quote, account, baseAmount)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.ExchangesTotal.WithLabelValues(string(base) + "/" + string(quote)).Inc()
	return out, nil
}

// --- Balances ---

// BalanceOf returns the balance of account in currency.
func (e *Engine) BalanceOf(cur ledger.CurrencyID, account ledger.Account) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(cur, account)
}

// TotalIssuance returns the supply of a currency.
func (e *Engine) TotalIssuance(cur ledger.CurrencyID) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.TotalIssuance(cur)
}

// Balances returns every non-zero balance of account keyed by currency.
func (e *Engine) Balances(account ledger.Account) map[ledger.CurrencyID]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[ledger.CurrencyID]decimal.Decimal)
	for _, c := range e.ledger.Currencies() {
		if b := e.ledger.BalanceOf(c.ID, account); !b.IsZero() {
			out[c.ID] = b
		}
	}
	return out
}

// Currencies lists registered currencies.
func (e *Engine) Currencies() []ledger.Currency {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Currencies()
}

// PoolExposure returns a pool's real-asset balances.
func (e *Engine) PoolExposure(poolID string) (pool.Exposure, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pools[poolID]
	if !ok {
		return pool.Exposure{}, fmt.Errorf("%w: %s", ErrUnknownPool, poolID)
	}
	return p.Exposure(), nil
}

// Classes lists class metadata ordered by ID.
func (e *Engine) Classes() []model.Class {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Class, 0, len(e.classes))
	for _, ce := range e.classes {
		out = append(out, ce.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) entry(classID ledger.CurrencyID) (*classEntry, error) {
	ce, ok := e.classes[classID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, classID)
	}
	return ce, nil
}

// halt latches a class as bankrupt and reports it. Callers hold e.mu.
func (e *Engine) halt(ce *classEntry, cause error) {
	if ce.halted {
		return
	}
	ce.halted = true
	metrics.ClassBankrupt.WithLabelValues(ce.meta.ID).Set(1)

	state := ce.class.State()
	state.Status = model.StatusHalted
	e.log.Error("leveraged class bankrupt, trading halted",
		"class", ce.meta.ID,
		"net_holdings", state.NetHoldings.String(),
		"total_issuance", state.TotalIssuance.String(),
		"price", state.Price.String(),
		"err", cause,
	)
	if e.reporter != nil {
		e.reporter.ClassBankrupt(state, cause)
	}
}

// observe halts the class if err reports bankruptcy.
func (e *Engine) observe(ce *classEntry, err error) {
	if errors.Is(err, leverage.ErrBankruptClass) && !errors.Is(err, ErrClassHalted) {
		e.halt(ce, err)
	}
}
