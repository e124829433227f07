// Package store defines the reporting sink for the margin engine.
// Implementations include PostgreSQL (durable history), Redis (read-through
// cache), and in-memory (for testing). The engine stays authoritative: the
// store only receives copies written after each operation commits.
package store

import (
	"context"
	"errors"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
)

// ErrNotFound is returned when a class or class state is not stored.
var ErrNotFound = errors.New("store: not found")

// Store is the reporting interface. PostgreSQL keeps the history; Redis
// provides a read-through cache layer.
type Store interface {
	// --- Class catalogue ---

	// SaveClass inserts or replaces class metadata.
	SaveClass(ctx context.Context, class *model.Class) error

	// GetClass retrieves class metadata by ID.
	GetClass(ctx context.Context, id string) (*model.Class, error)

	// ListClasses returns all classes ordered by ID.
	ListClasses(ctx context.Context) ([]model.Class, error)

	// UpdateClassState records the latest aggregate snapshot of a class.
	UpdateClassState(ctx context.Context, state *model.ClassState) error

	// GetClassState returns the latest recorded snapshot of a class.
	GetClassState(ctx context.Context, classID string) (*model.ClassState, error)

	// --- Position audit trail ---

	// InsertPositionRecord appends an immutable open record.
	InsertPositionRecord(ctx context.Context, rec *model.PositionRecord) error

	// GetPositionsByAccount returns an account's records, oldest first.
	GetPositionsByAccount(ctx context.Context, account string) ([]model.PositionRecord, error)

	// GetPositionsByClass returns a class's records, oldest first.
	GetPositionsByClass(ctx context.Context, classID string) ([]model.PositionRecord, error)

	// --- Price history ---

	// InsertPriceUpdate appends an oracle price push.
	InsertPriceUpdate(ctx context.Context, u *model.PriceUpdate) error

	// GetPriceHistory returns up to limit updates for base/quote, newest
	// first. A limit <= 0 returns everything.
	GetPriceHistory(ctx context.Context, base, quote string, limit int) ([]model.PriceUpdate, error)
}
