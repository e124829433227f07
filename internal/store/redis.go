package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SaveClass(ctx context.Context, c *model.Class) error {
	if err := s.primary.SaveClass(ctx, c); err != nil {
		return err
	}
	s.cache(ctx, classKey(c.ID), c)
	return nil
}

func (s *CachedStore) UpdateClassState(ctx context.Context, st *model.ClassState) error {
	if err := s.primary.UpdateClassState(ctx, st); err != nil {
		return err
	}
	s.cache(ctx, stateKey(st.ClassID), st)
	return nil
}

func (s *CachedStore) InsertPositionRecord(ctx context.Context, rec *model.PositionRecord) error {
	if err := s.primary.InsertPositionRecord(ctx, rec); err != nil {
		return err
	}
	// Invalidate position cache for this account.
	s.rdb.Del(ctx, positionsKey(rec.Account))
	return nil
}

func (s *CachedStore) InsertPriceUpdate(ctx context.Context, u *model.PriceUpdate) error {
	return s.primary.InsertPriceUpdate(ctx, u)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetClass(ctx context.Context, id string) (*model.Class, error) {
	var c model.Class
	if s.lookup(ctx, classKey(id), &c) {
		return &c, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetClass(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, classKey(id), got)
	return got, nil
}

func (s *CachedStore) GetClassState(ctx context.Context, classID string) (*model.ClassState, error) {
	var st model.ClassState
	if s.lookup(ctx, stateKey(classID), &st) {
		return &st, nil
	}

	got, err := s.primary.GetClassState(ctx, classID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, stateKey(classID), got)
	return got, nil
}

func (s *CachedStore) GetPositionsByAccount(ctx context.Context, account string) ([]model.PositionRecord, error) {
	var records []model.PositionRecord
	if s.lookup(ctx, positionsKey(account), &records) {
		return records, nil
	}

	records, err := s.primary.GetPositionsByAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionsKey(account), records)
	return records, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListClasses(ctx context.Context) ([]model.Class, error) {
	return s.primary.ListClasses(ctx)
}

func (s *CachedStore) GetPositionsByClass(ctx context.Context, classID string) ([]model.PositionRecord, error) {
	return s.primary.GetPositionsByClass(ctx, classID)
}

func (s *CachedStore) GetPriceHistory(ctx context.Context, base, quote string, limit int) ([]model.PriceUpdate, error) {
	return s.primary.GetPriceHistory(ctx, base, quote, limit)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func classKey(id string) string          { return fmt.Sprintf("margin:class:%s", id) }
func stateKey(id string) string          { return fmt.Sprintf("margin:state:%s", id) }
func positionsKey(account string) string { return fmt.Sprintf("margin:positions:%s", account) }
