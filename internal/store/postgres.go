package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
)

// Schema creates the reporting tables. All monetary values are NUMERIC for
// exact decimal precision.
const Schema = `
CREATE TABLE IF NOT EXISTS classes (
    id                    TEXT PRIMARY KEY,
    base                  TEXT NOT NULL,
    quote                 TEXT NOT NULL,
    leverage              NUMERIC NOT NULL,
    base_collateral_ratio NUMERIC NOT NULL,
    initial_token_price   NUMERIC NOT NULL,
    pool_id               TEXT NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS class_states (
    class_id          TEXT PRIMARY KEY REFERENCES classes (id),
    collateral        NUMERIC NOT NULL,
    debt              NUMERIC NOT NULL,
    holdings          NUMERIC NOT NULL,
    total_issuance    NUMERIC NOT NULL,
    pool_contribution NUMERIC NOT NULL,
    price             NUMERIC NOT NULL,
    net_holdings      NUMERIC NOT NULL,
    token_price       NUMERIC NOT NULL,
    status            TEXT NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS position_records (
    id              TEXT PRIMARY KEY,
    class_id        TEXT NOT NULL REFERENCES classes (id),
    account         TEXT NOT NULL,
    collateral      NUMERIC NOT NULL,
    pool_collateral NUMERIC NOT NULL,
    debt            NUMERIC NOT NULL,
    holdings        NUMERIC NOT NULL,
    token_amount    NUMERIC NOT NULL,
    open_price      NUMERIC NOT NULL,
    timestamp       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_position_records_account ON position_records (account, timestamp);
CREATE INDEX IF NOT EXISTS idx_position_records_class ON position_records (class_id, timestamp);

CREATE TABLE IF NOT EXISTS price_updates (
    id        BIGSERIAL PRIMARY KEY,
    base      TEXT NOT NULL,
    quote     TEXT NOT NULL,
    price     NUMERIC NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_updates_pair_time ON price_updates (base, quote, timestamp DESC, id DESC);
`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveClass(ctx context.Context, c *model.Class) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO classes (id, base, quote, leverage, base_collateral_ratio, initial_token_price, pool_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET base = EXCLUDED.base, quote = EXCLUDED.quote,
		     leverage = EXCLUDED.leverage,
		     base_collateral_ratio = EXCLUDED.base_collateral_ratio,
		     initial_token_price = EXCLUDED.initial_token_price,
		     pool_id = EXCLUDED.pool_id`,
		c.ID, c.Base, c.Quote,
		c.Leverage.String(), c.BaseCollateralRatio.String(), c.InitialTokenPrice.String(),
		c.PoolID, c.CreatedAt,
	)
	return err
}

const classColumns = `id, base, quote, leverage::TEXT, base_collateral_ratio::TEXT,
		        initial_token_price::TEXT, pool_id, created_at`

func (s *PostgresStore) GetClass(ctx context.Context, id string) (*model.Class, error) {
	c, err := scanClass(s.pool.QueryRow(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: class %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get class %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) ListClasses(ctx context.Context) ([]model.Class, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+classColumns+` FROM classes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classes []model.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, *c)
	}
	return classes, rows.Err()
}

func (s *PostgresStore) UpdateClassState(ctx context.Context, st *model.ClassState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO class_states (class_id, collateral, debt, holdings, total_issuance,
		                           pool_contribution, price, net_holdings, token_price, status, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)
		 ON CONFLICT (class_id) DO UPDATE
		 SET collateral = EXCLUDED.collateral, debt = EXCLUDED.debt, holdings = EXCLUDED.holdings,
		     total_issuance = EXCLUDED.total_issuance, pool_contribution = EXCLUDED.pool_contribution,
		     price = EXCLUDED.price, net_holdings = EXCLUDED.net_holdings,
		     token_price = EXCLUDED.token_price, status = EXCLUDED.status,
		     updated_at = EXCLUDED.updated_at`,
		st.ClassID,
		st.Collateral.String(), st.Debt.String(), st.Holdings.String(), st.TotalIssuance.String(),
		st.PoolContribution.String(), st.Price.String(), st.NetHoldings.String(), st.TokenPrice.String(),
		st.Status, st.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetClassState(ctx context.Context, classID string) (*model.ClassState, error) {
	var st model.ClassState
	var c, dbt, h, t, pc, p, nav, tp string

	err := s.pool.QueryRow(ctx,
		`SELECT class_id, collateral::TEXT, debt::TEXT, holdings::TEXT, total_issuance::TEXT,
		        pool_contribution::TEXT, price::TEXT, net_holdings::TEXT, token_price::TEXT,
		        status, updated_at
		 FROM class_states WHERE class_id = $1`, classID).
		Scan(&st.ClassID, &c, &dbt, &h, &t, &pc, &p, &nav, &tp, &st.Status, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: state of class %s", ErrNotFound, classID)
	}
	if err != nil {
		return nil, fmt.Errorf("get class state %s: %w", classID, err)
	}

	st.Collateral, _ = decimal.NewFromString(c)
	st.Debt, _ = decimal.NewFromString(dbt)
	st.Holdings, _ = decimal.NewFromString(h)
	st.TotalIssuance, _ = decimal.NewFromString(t)
	st.PoolContribution, _ = decimal.NewFromString(pc)
	st.Price, _ = decimal.NewFromString(p)
	st.NetHoldings, _ = decimal.NewFromString(nav)
	st.TokenPrice, _ = decimal.NewFromString(tp)

	return &st, nil
}

func (s *PostgresStore) InsertPositionRecord(ctx context.Context, r *model.PositionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO position_records (id, class_id, account, collateral, pool_collateral,
		                               debt, holdings, token_amount, open_price, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		r.ID, r.ClassID, r.Account,
		r.Collateral.String(), r.PoolCollateral.String(), r.Debt.String(),
		r.Holdings.String(), r.TokenAmount.String(), r.OpenPrice.String(),
		r.Timestamp,
	)
	return err
}

const positionColumns = `id, class_id, account, collateral::TEXT, pool_collateral::TEXT,
		        debt::TEXT, holdings::TEXT, token_amount::TEXT, open_price::TEXT, timestamp`

func (s *PostgresStore) GetPositionsByAccount(ctx context.Context, account string) ([]model.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM position_records WHERE account = $1 ORDER BY timestamp`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositionRecords(rows)
}

func (s *PostgresStore) GetPositionsByClass(ctx context.Context, classID string) ([]model.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM position_records WHERE class_id = $1 ORDER BY timestamp`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositionRecords(rows)
}

func (s *PostgresStore) InsertPriceUpdate(ctx context.Context, u *model.PriceUpdate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_updates (base, quote, price, timestamp) VALUES ($1, $2, $3::NUMERIC, $4)`,
		u.Base, u.Quote, u.Price.String(), u.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, base, quote string, limit int) ([]model.PriceUpdate, error) {
	// LIMIT NULL means no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT base, quote, price::TEXT, timestamp
		 FROM price_updates WHERE base = $1 AND quote = $2
		 ORDER BY timestamp DESC, id DESC LIMIT $3`, base, quote, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates []model.PriceUpdate
	for rows.Next() {
		var u model.PriceUpdate
		var priceS string
		if err := rows.Scan(&u.Base, &u.Quote, &priceS, &u.Timestamp); err != nil {
			return nil, err
		}
		u.Price, _ = decimal.NewFromString(priceS)
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanClass(row pgxRow) (*model.Class, error) {
	var c model.Class
	var lev, ratio, initial string
	if err := row.Scan(&c.ID, &c.Base, &c.Quote, &lev, &ratio, &initial, &c.PoolID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Leverage, _ = decimal.NewFromString(lev)
	c.BaseCollateralRatio, _ = decimal.NewFromString(ratio)
	c.InitialTokenPrice, _ = decimal.NewFromString(initial)
	return &c, nil
}

// scanPositionRecords reads pgx rows into PositionRecord slices.
func scanPositionRecords(rows pgx.Rows) ([]model.PositionRecord, error) {
	var records []model.PositionRecord
	for rows.Next() {
		var r model.PositionRecord
		var coll, poolColl, dbt, h, tok, price string

		if err := rows.Scan(&r.ID, &r.ClassID, &r.Account,
			&coll, &poolColl, &dbt, &h, &tok, &price, &r.Timestamp); err != nil {
			return nil, err
		}

		r.Collateral, _ = decimal.NewFromString(coll)
		r.PoolCollateral, _ = decimal.NewFromString(poolColl)
		r.Debt, _ = decimal.NewFromString(dbt)
		r.Holdings, _ = decimal.NewFromString(h)
		r.TokenAmount, _ = decimal.NewFromString(tok)
		r.OpenPrice, _ = decimal.NewFromString(price)

		records = append(records, r)
	}
	return records, rows.Err()
}
