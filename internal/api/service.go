// Package api provides the HTTP handlers over the margin engine: price
// updates, currency exchange, deposits, class queries and the position
// lifecycle. Reporting copies are written to the store and events are
// emitted only after the engine has committed an operation.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/events"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/ledger"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/leverage"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/limits"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/margin"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/money"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/pricefeed"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/store"
	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/symbol"
)

// Service serves the margin engine over HTTP.
type Service struct {
	engine *margin.Engine
	store  store.Store
	sink   events.Sink
	logger *slog.Logger
}

// NewService creates a new API service.
// Pass nil for sink if event fan-out is not needed.
func NewService(engine *margin.Engine, st store.Store, sink events.Sink) *Service {
	if sink == nil {
		sink = events.Multi{}
	}
	return &Service{
		engine: engine,
		store:  st,
		sink:   sink,
		logger: slog.Default(),
	}
}

// Mount registers the API routes on r (mounted under /api/v1).
func (s *Service) Mount(r chi.Router) {
	r.Post("/prices", s.SetPrice)
	r.Get("/prices/{base}/{quote}", s.GetPrice)
	r.Get("/prices/{base}/{quote}/history", s.GetPriceHistory)

	r.Post("/exchange", s.Exchange)

	r.Post("/accounts/{account}/deposits", s.Deposit)
	r.Get("/accounts/{account}/balances", s.GetBalances)
	r.Get("/accounts/{account}/balances/{currency}", s.GetBalance)
	r.Get("/accounts/{account}/positions", s.GetAccountPositions)

	r.Get("/classes", s.ListClasses)
	r.Get("/classes/{classID}", s.GetClass)
	r.Get("/classes/{classID}/positions", s.GetClassPositions)
	r.Post("/classes/{classID}/open", s.OpenPosition)
	r.Post("/classes/{classID}/close", s.ClosePosition)
	r.Post("/classes/{classID}/remediate", s.Remediate)
}

// --- Request/Response types ---

// SetPriceRequest is the JSON body for POST /prices.
type SetPriceRequest struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Price decimal.Decimal `json:"price"` // units of quote per base
}

// PriceResponse is returned by the price endpoints.
type PriceResponse struct {
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// ExchangeRequest is the JSON body for POST /exchange.
type ExchangeRequest struct {
	Account string          `json:"account"`
	Base    string          `json:"base"`
	Quote   string          `json:"quote"`
	Amount  decimal.Decimal `json:"amount"` // negative = reverse trade
}

// ExchangeResponse is returned from POST /exchange.
type ExchangeResponse struct {
	Account     string          `json:"account"`
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
}

// DepositRequest is the JSON body for POST /accounts/{account}/deposits.
type DepositRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// BalanceResponse is one account balance.
type BalanceResponse struct {
	Account  string          `json:"account"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// PositionRequest is the JSON body for open and close. Amount is base
// currency collateral for open and class tokens for close.
type PositionRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// OpenResponse is returned from POST /classes/{classID}/open.
type OpenResponse struct {
	ClassID     string               `json:"class_id"`
	Account     string               `json:"account"`
	Collateral  decimal.Decimal      `json:"collateral"`
	TokenAmount decimal.Decimal      `json:"token_amount"`
	Record      model.PositionRecord `json:"record"`
	State       model.ClassState     `json:"state"`
}

// CloseResponse is returned from POST /classes/{classID}/close.
type CloseResponse struct {
	ClassID        string           `json:"class_id"`
	Account        string           `json:"account"`
	TokenAmount    decimal.Decimal  `json:"token_amount"`
	WithdrawAmount decimal.Decimal  `json:"withdraw_amount"`
	State          model.ClassState `json:"state"`
}

// ClassView is a class with its ticker and live state.
type ClassView struct {
	model.Class
	Ticker string           `json:"ticker"`
	State  model.ClassState `json:"state"`
}

// Holding is an account's live stake in one class.
type Holding struct {
	ClassID     string          `json:"class_id"`
	Tokens      decimal.Decimal `json:"tokens"`
	TokenPrice  decimal.Decimal `json:"token_price"`
	Value       decimal.Decimal `json:"value"`
	ClassStatus string          `json:"class_status"`
}

// AccountPositions is returned from GET /accounts/{account}/positions.
type AccountPositions struct {
	Account  string                 `json:"account"`
	Holdings []Holding              `json:"holdings"`
	Records  []model.PositionRecord `json:"records"`
}

// --- Prices ---

// SetPrice handles POST /api/v1/prices
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	base, quote := ledger.CurrencyID(req.Base), ledger.CurrencyID(req.Quote)

	entry, err := s.engine.SetPrice(base, quote, req.Price)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// History is recorded in canonical direction.
	pair := entry.Pair
	now := entry.UpdatedAt
	ctx := r.Context()
	if err := s.store.InsertPriceUpdate(ctx, &model.PriceUpdate{
		Base: string(pair.First), Quote: string(pair.Second), Price: entry.Rate.Value(), Timestamp: now,
	}); err != nil {
		s.logger.Error("failed to record price update", "pair", pair.String(), "err", err)
	}
	s.recordStates(ctx)

	s.logger.Info("price updated", "base", req.Base, "quote", req.Quote, "price", req.Price.String())
	s.sink.Emit(events.Event{
		Type:      events.TypePriceUpdated,
		Key:       string(pair.First) + "-" + string(pair.Second),
		Payload:   PriceResponse{Base: req.Base, Quote: req.Quote, Price: req.Price, UpdatedAt: now},
		Timestamp: now,
	})

	writeJSON(w, http.StatusOK, PriceResponse{Base: req.Base, Quote: req.Quote, Price: req.Price, UpdatedAt: now})
}

// GetPrice handles GET /api/v1/prices/{base}/{quote}
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	base := chi.URLParam(r, "base")
	quote := chi.URLParam(r, "quote")

	rate, err := s.engine.GetPrice(ledger.CurrencyID(base), ledger.CurrencyID(quote))
	if errors.Is(err, pricefeed.ErrNoPrice) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := PriceResponse{Base: base, Quote: quote, Price: rate.Value()}
	key := pricefeed.NewPair(ledger.CurrencyID(base), ledger.CurrencyID(quote)).String()
	for _, e := range s.engine.Prices() {
		if e.Pair.String() == key {
			resp.UpdatedAt = e.UpdatedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPriceHistory handles GET /api/v1/prices/{base}/{quote}/history
// Optional ?limit=N returns the N most recent updates.
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	base := ledger.CurrencyID(chi.URLParam(r, "base"))
	quote := ledger.CurrencyID(chi.URLParam(r, "quote"))

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	pair := pricefeed.NewPair(base, quote)
	updates, err := s.store.GetPriceHistory(r.Context(), string(pair.First), string(pair.Second), limit)
	if err != nil {
		writeError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}

	history := make([]model.PriceUpdate, 0, len(updates))
	for _, u := range updates {
		if pair.Inverse {
			inv, err := money.Div(money.One, u.Price)
			if err != nil {
				continue
			}
			u = model.PriceUpdate{Base: string(base), Quote: string(quote), Price: inv, Timestamp: u.Timestamp}
		}
		history = append(history, u)
	}
	writeJSON(w, http.StatusOK, history)
}

// --- Exchange and balances ---

// Exchange handles POST /api/v1/exchange
func (s *Service) Exchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	out, err := s.engine.Exchange(ledger.CurrencyID(req.Base), ledger.CurrencyID(req.Quote), ledger.Account(req.Account), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.logger.Info("currency exchanged",
		"account", req.Account,
		"base", req.Base,
		"quote", req.Quote,
		"base_amount", req.Amount.String(),
		"quote_amount", out.String(),
	)
	writeJSON(w, http.StatusOK, ExchangeResponse{
		Account: req.Account, Base: req.Base, Quote: req.Quote,
		BaseAmount: req.Amount, QuoteAmount: out,
	})
}

// Deposit handles POST /api/v1/accounts/{account}/deposits
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	cur := ledger.CurrencyID(req.Currency)
	if err := s.engine.Mint(cur, ledger.Account(account), req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}

	s.logger.Info("deposit credited", "account", account, "currency", req.Currency, "amount", req.Amount.String())
	writeJSON(w, http.StatusCreated, BalanceResponse{
		Account: account, Currency: req.Currency, Balance: s.engine.BalanceOf(cur, ledger.Account(account)),
	})
}

// GetBalance handles GET /api/v1/accounts/{account}/balances/{currency}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	currency := chi.URLParam(r, "currency")

	writeJSON(w, http.StatusOK, BalanceResponse{
		Account:  account,
		Currency: currency,
		Balance:  s.engine.BalanceOf(ledger.CurrencyID(currency), ledger.Account(account)),
	})
}

// GetBalances handles GET /api/v1/accounts/{account}/balances
func (s *Service) GetBalances(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	balances := []BalanceResponse{}
	for _, c := range s.engine.Currencies() {
		if b := s.engine.BalanceOf(c.ID, ledger.Account(account)); !b.IsZero() {
			balances = append(balances, BalanceResponse{Account: account, Currency: string(c.ID), Balance: b})
		}
	}
	writeJSON(w, http.StatusOK, balances)
}

// GetAccountPositions handles GET /api/v1/accounts/{account}/positions
// Returns live class holdings marked at the current token price together
// with the account's open records.
func (s *Service) GetAccountPositions(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	records, err := s.store.GetPositionsByAccount(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.PositionRecord{}
	}

	holdings := []Holding{}
	for _, c := range s.engine.Classes() {
		tokens := s.engine.BalanceOf(ledger.CurrencyID(c.ID), ledger.Account(account))
		if !tokens.IsPositive() {
			continue
		}
		st, err := s.engine.ClassState(ledger.CurrencyID(c.ID))
		if err != nil {
			continue
		}
		holdings = append(holdings, Holding{
			ClassID:     c.ID,
			Tokens:      tokens,
			TokenPrice:  st.TokenPrice,
			Value:       tokens.Mul(st.TokenPrice).Truncate(money.Scale),
			ClassStatus: st.Status,
		})
	}

	writeJSON(w, http.StatusOK, AccountPositions{Account: account, Holdings: holdings, Records: records})
}

// --- Classes ---

// ListClasses handles GET /api/v1/classes
func (s *Service) ListClasses(w http.ResponseWriter, r *http.Request) {
	views := []ClassView{}
	for _, c := range s.engine.Classes() {
		v, err := s.classView(ledger.CurrencyID(c.ID))
		if err != nil {
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetClass handles GET /api/v1/classes/{classID}
// classID may be a class ID or a ticker such as USD-EUR-10X.
func (s *Service) GetClass(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolveClass(chi.URLParam(r, "classID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	v, err := s.classView(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetClassPositions handles GET /api/v1/classes/{classID}/positions
func (s *Service) GetClassPositions(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolveClass(chi.URLParam(r, "classID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	records, err := s.engine.Positions(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if records == nil {
		records = []model.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// OpenPosition handles POST /api/v1/classes/{classID}/open
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolveClass(chi.URLParam(r, "classID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	rec, err := s.engine.OpenPosition(id, ledger.Account(req.Account), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := OpenResponse{
		ClassID:     string(id),
		Account:     req.Account,
		Collateral:  rec.Collateral,
		TokenAmount: rec.TokenAmount,
		Record:      rec,
	}
	ctx := r.Context()
	if err := s.store.InsertPositionRecord(ctx, &rec); err != nil {
		s.logger.Error("failed to record position", "class", id, "record", rec.ID, "err", err)
	}
	resp.State = s.recordState(ctx, id)

	s.sink.Emit(events.Event{
		Type:      events.TypePositionOpened,
		Key:       string(id),
		Payload:   resp,
		Timestamp: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, resp)
}

// ClosePosition handles POST /api/v1/classes/{classID}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolveClass(chi.URLParam(r, "classID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	withdrawn, err := s.engine.ClosePosition(id, ledger.Account(req.Account), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := CloseResponse{
		ClassID:        string(id),
		Account:        req.Account,
		TokenAmount:    req.Amount,
		WithdrawAmount: withdrawn,
		State:          s.recordState(r.Context(), id),
	}
	s.sink.Emit(events.Event{
		Type:      events.TypePositionClosed,
		Key:       string(id),
		Payload:   resp,
		Timestamp: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, resp)
}

// Remediate handles POST /api/v1/classes/{classID}/remediate
func (s *Service) Remediate(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolveClass(chi.URLParam(r, "classID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.engine.Remediate(id); err != nil {
		writeEngineError(w, err)
		return
	}

	st := s.recordState(r.Context(), id)
	s.sink.Emit(events.Event{
		Type:      events.TypeClassRemediated,
		Key:       string(id),
		Payload:   st,
		Timestamp: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, st)
}

// --- Helpers ---

// resolveClass accepts a class ID or a ticker.
func (s *Service) resolveClass(param string) (ledger.CurrencyID, error) {
	if _, err := s.engine.Class(ledger.CurrencyID(param)); err == nil {
		return ledger.CurrencyID(param), nil
	}
	t, err := symbol.Parse(param)
	if err != nil {
		return "", margin.ErrUnknownClass
	}
	for _, c := range s.engine.Classes() {
		if c.Base == t.Base && c.Quote == t.Quote && c.Leverage.Equal(t.Leverage) {
			return ledger.CurrencyID(c.ID), nil
		}
	}
	return "", margin.ErrUnknownClass
}

func (s *Service) classView(id ledger.CurrencyID) (ClassView, error) {
	c, err := s.engine.Class(id)
	if err != nil {
		return ClassView{}, err
	}
	st, err := s.engine.ClassState(id)
	if err != nil {
		return ClassView{}, err
	}
	return ClassView{Class: c, Ticker: symbol.Format(c.Base, c.Quote, c.Leverage), State: st}, nil
}

// recordState writes the class's current snapshot to the store. Store
// failures are logged; the engine remains authoritative.
func (s *Service) recordState(ctx context.Context, id ledger.CurrencyID) model.ClassState {
	st, err := s.engine.ClassState(id)
	if err != nil {
		return model.ClassState{}
	}
	if err := s.store.UpdateClassState(ctx, &st); err != nil {
		s.logger.Error("failed to record class state", "class", id, "err", err)
	}
	return st
}

func (s *Service) recordStates(ctx context.Context) {
	for _, c := range s.engine.Classes() {
		s.recordState(ctx, ledger.CurrencyID(c.ID))
	}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, margin.ErrUnknownClass),
		errors.Is(err, margin.ErrUnknownPool),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, leverage.ErrInvalidAmount),
		errors.Is(err, ledger.ErrUnknownCurrency),
		errors.Is(err, pricefeed.ErrInvalidPrice),
		errors.Is(err, pricefeed.ErrSamePair),
		errors.Is(err, money.ErrOverflow),
		errors.Is(err, money.ErrDivisionByZero):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, leverage.ErrBankruptClass),
		errors.Is(err, pricefeed.ErrNoPrice),
		errors.Is(err, limits.ErrPerClassLimitExceeded),
		errors.Is(err, limits.ErrPairLimitExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
