package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	classes   map[string]*model.Class
	states    map[string]model.ClassState
	positions []model.PositionRecord
	prices    []model.PriceUpdate
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes: make(map[string]*model.Class),
		states:  make(map[string]model.ClassState),
	}
}

func (s *MemoryStore) SaveClass(_ context.Context, c *model.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *c
	s.classes[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetClass(_ context.Context, id string) (*model.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.classes[id]
	if !ok {
		return nil, fmt.Errorf("%w: class %s", ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListClasses(_ context.Context) ([]model.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	classes := make([]model.Class, 0, len(s.classes))
	for _, c := range s.classes {
		classes = append(classes, *c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	return classes, nil
}

func (s *MemoryStore) UpdateClassState(_ context.Context, st *model.ClassState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.classes[st.ClassID]; !ok {
		return fmt.Errorf("%w: class %s", ErrNotFound, st.ClassID)
	}
	s.states[st.ClassID] = *st
	return nil
}

func (s *MemoryStore) GetClassState(_ context.Context, classID string) (*model.ClassState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[classID]
	if !ok {
		return nil, fmt.Errorf("%w: state of class %s", ErrNotFound, classID)
	}
	return &st, nil
}

func (s *MemoryStore) InsertPositionRecord(_ context.Context, rec *model.PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions = append(s.positions, *rec)
	return nil
}

func (s *MemoryStore) GetPositionsByAccount(_ context.Context, account string) ([]model.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PositionRecord
	for _, r := range s.positions {
		if r.Account == account {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetPositionsByClass(_ context.Context, classID string) ([]model.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PositionRecord
	for _, r := range s.positions {
		if r.ClassID == classID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertPriceUpdate(_ context.Context, u *model.PriceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices = append(s.prices, *u)
	return nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, base, quote string, limit int) ([]model.PriceUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PriceUpdate
	for i := len(s.prices) - 1; i >= 0; i-- {
		u := s.prices[i]
		if u.Base == base && u.Quote == quote {
			result = append(result, u)
		}
	}
	// Concurrent writers may insert out of feed order.
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
