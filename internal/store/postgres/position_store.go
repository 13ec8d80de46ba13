package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/updown/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Owner
// addresses are stored as lowercase hex so lookups are case-insensitive.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert inserts or updates one owner's position in one market.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (
			question_id, owner, balance_up, balance_down, redeemed, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (question_id, owner) DO UPDATE SET
			balance_up   = EXCLUDED.balance_up,
			balance_down = EXCLUDED.balance_down,
			redeemed     = EXCLUDED.redeemed,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		pos.QuestionID, addressKey(pos.Owner),
		pos.Balances[0], pos.Balances[1], pos.Redeemed,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", pos.QuestionID, pos.Owner.Hex(), err)
	}
	return nil
}

// Get fetches one owner's position in one market.
func (s *PositionStore) Get(ctx context.Context, questionID string, owner common.Address) (domain.Position, error) {
	const query = `
		SELECT question_id, owner, balance_up, balance_down, redeemed, updated_at
		FROM positions
		WHERE question_id = $1 AND owner = $2`

	pos, err := scanPosition(s.pool.QueryRow(ctx, query, questionID, addressKey(owner)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s/%s: %w",
				questionID, owner.Hex(), domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return pos, nil
}

// ListByOwner returns every position held by the owner.
func (s *PositionStore) ListByOwner(ctx context.Context, owner common.Address) ([]domain.Position, error) {
	const query = `
		SELECT question_id, owner, balance_up, balance_down, redeemed, updated_at
		FROM positions WHERE owner = $1 ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, addressKey(owner))
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", owner.Hex(), err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListByMarket returns every position in the market.
func (s *PositionStore) ListByMarket(ctx context.Context, questionID string) ([]domain.Position, error) {
	const query = `
		SELECT question_id, owner, balance_up, balance_down, redeemed, updated_at
		FROM positions WHERE question_id = $1`

	rows, err := s.pool.Query(ctx, query, questionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %s: %w", questionID, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func addressKey(addr common.Address) string {
	return "0x" + fmt.Sprintf("%x", addr.Bytes())
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		pos   domain.Position
		owner string
	)
	err := row.Scan(&pos.QuestionID, &owner, &pos.Balances[0], &pos.Balances[1], &pos.Redeemed, &pos.UpdatedAt)
	if err != nil {
		return domain.Position{}, err
	}
	pos.Owner = common.HexToAddress(owner)
	return pos, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
