package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists market records. The engine is the single writer;
// stores never interpret lifecycle rules, they only round-trip state.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, questionID string) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	ListAll(ctx context.Context) ([]Market, error)
	// ListResolvedBefore returns markets resolved strictly before the cutoff,
	// used by the archiver.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists per-owner, per-market outcome balances.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, questionID string, owner common.Address) (Position, error)
	ListByOwner(ctx context.Context, owner common.Address) ([]Position, error)
	ListByMarket(ctx context.Context, questionID string) ([]Position, error)
}

// UserStore persists user aggregate state.
type UserStore interface {
	Upsert(ctx context.Context, stats UserStats) error
	Get(ctx context.Context, addr common.Address) (UserStats, error)
	ListAll(ctx context.Context) ([]UserStats, error)
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of engine operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
