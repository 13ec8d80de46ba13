package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/updown/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL. The open/closed
// market id lists are stored as JSONB.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a UserStore backed by the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Upsert inserts or updates a user aggregate.
func (s *UserStore) Upsert(ctx context.Context, stats domain.UserStats) error {
	openIDs, err := json.Marshal(emptyIfNil(stats.Open))
	if err != nil {
		return fmt.Errorf("postgres: encode open ids: %w", err)
	}
	closedIDs, err := json.Marshal(emptyIfNil(stats.Closed))
	if err != nil {
		return fmt.Errorf("postgres: encode closed ids: %w", err)
	}

	const query = `
		INSERT INTO users (
			address, open_ids, closed_ids, total_spending, total_redeemed, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (address) DO UPDATE SET
			open_ids       = EXCLUDED.open_ids,
			closed_ids     = EXCLUDED.closed_ids,
			total_spending = EXCLUDED.total_spending,
			total_redeemed = EXCLUDED.total_redeemed,
			updated_at     = NOW()`

	_, err = s.pool.Exec(ctx, query,
		addressKey(stats.Address), openIDs, closedIDs,
		stats.TotalSpending, stats.TotalRedeemed,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert user %s: %w", stats.Address.Hex(), err)
	}
	return nil
}

// Get fetches a user aggregate by address.
func (s *UserStore) Get(ctx context.Context, addr common.Address) (domain.UserStats, error) {
	const query = `
		SELECT address, open_ids, closed_ids, total_spending, total_redeemed, updated_at
		FROM users WHERE address = $1`

	stats, err := scanUser(s.pool.QueryRow(ctx, query, addressKey(addr)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserStats{}, fmt.Errorf("postgres: user %s: %w", addr.Hex(), domain.ErrNotFound)
		}
		return domain.UserStats{}, fmt.Errorf("postgres: get user %s: %w", addr.Hex(), err)
	}
	return stats, nil
}

// ListAll returns every user aggregate.
func (s *UserStore) ListAll(ctx context.Context) ([]domain.UserStats, error) {
	const query = `
		SELECT address, open_ids, closed_ids, total_spending, total_redeemed, updated_at
		FROM users`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()

	var out []domain.UserStats
	for rows.Next() {
		stats, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate users: %w", err)
	}
	return out, nil
}

func scanUser(row pgx.Row) (domain.UserStats, error) {
	var (
		stats              domain.UserStats
		addr               string
		openIDs, closedIDs []byte
	)
	err := row.Scan(&addr, &openIDs, &closedIDs, &stats.TotalSpending, &stats.TotalRedeemed, &stats.UpdatedAt)
	if err != nil {
		return domain.UserStats{}, err
	}
	stats.Address = common.HexToAddress(addr)
	if err := json.Unmarshal(openIDs, &stats.Open); err != nil {
		return domain.UserStats{}, fmt.Errorf("decode open ids: %w", err)
	}
	if err := json.Unmarshal(closedIDs, &stats.Closed); err != nil {
		return domain.UserStats{}, fmt.Errorf("decode closed ids: %w", err)
	}
	return stats, nil
}

func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

var _ domain.UserStore = (*UserStore)(nil)
