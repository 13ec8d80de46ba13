package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/updown/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `
	question_id, price_feed_id, feed_symbol,
	begin_timestamp, end_timestamp,
	initial_price, final_price, price_expo,
	reserve_up, reserve_down, fee_bps, stake_pool,
	resolved, answer_timestamp, payout_up, payout_down, note,
	created_at, updated_at`

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			question_id, price_feed_id, feed_symbol,
			begin_timestamp, end_timestamp,
			initial_price, final_price, price_expo,
			reserve_up, reserve_down, fee_bps, stake_pool,
			resolved, answer_timestamp, payout_up, payout_down, note,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, NOW()
		)
		ON CONFLICT (question_id) DO UPDATE SET
			final_price      = EXCLUDED.final_price,
			reserve_up       = EXCLUDED.reserve_up,
			reserve_down     = EXCLUDED.reserve_down,
			stake_pool       = EXCLUDED.stake_pool,
			resolved         = EXCLUDED.resolved,
			answer_timestamp = EXCLUDED.answer_timestamp,
			payout_up        = EXCLUDED.payout_up,
			payout_down      = EXCLUDED.payout_down,
			note             = EXCLUDED.note,
			updated_at       = NOW()`

	var answered *time.Time
	if !m.AnswerTimestamp.IsZero() {
		answered = &m.AnswerTimestamp
	}
	_, err := s.pool.Exec(ctx, query,
		m.QuestionID, m.PriceFeedID, m.FeedSymbol,
		m.BeginTimestamp, m.EndTimestamp,
		m.InitialPrice, m.FinalPrice, m.PriceExpo,
		m.Reserves[0], m.Reserves[1], m.FeeBps, m.StakePool,
		m.Resolved, answered, m.PayoutVector[0], m.PayoutVector[1], m.Note,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.QuestionID, err)
	}
	return nil
}

// GetByID fetches a single market by its question id.
func (s *MarketStore) GetByID(ctx context.Context, questionID string) (domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE question_id = $1`
	m, err := scanMarket(s.pool.QueryRow(ctx, query, questionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", questionID, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", questionID, err)
	}
	return m, nil
}

// ListActive returns unresolved markets whose end is still in the future,
// newest first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + marketColumns + `
		FROM markets
		WHERE NOT resolved AND end_timestamp > NOW()
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListAll returns every market, newest first.
func (s *MarketStore) ListAll(ctx context.Context) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListResolvedBefore returns markets resolved strictly before the cutoff.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + `
		FROM markets
		WHERE resolved AND answer_timestamp < $1
		ORDER BY answer_timestamp`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m        domain.Market
		answered *time.Time
	)
	err := row.Scan(
		&m.QuestionID, &m.PriceFeedID, &m.FeedSymbol,
		&m.BeginTimestamp, &m.EndTimestamp,
		&m.InitialPrice, &m.FinalPrice, &m.PriceExpo,
		&m.Reserves[0], &m.Reserves[1], &m.FeeBps, &m.StakePool,
		&m.Resolved, &answered, &m.PayoutVector[0], &m.PayoutVector[1], &m.Note,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if answered != nil {
		m.AnswerTimestamp = *answered
	}
	return m, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate markets: %w", err)
	}
	return out, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
