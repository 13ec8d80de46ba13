package engine

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/pricefeed"
)

// questionID derives the content-addressed market identifier from the
// creation inputs plus a process-local nonce, so two markets created in the
// same second on the same feed still get distinct ids.
func (e *Engine) questionID(feedID string, end, created time.Time) string {
	buf := make([]byte, 0, len(feedID)+24)
	buf = append(buf, feedID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(end.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(created.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, e.nonce.Add(1))
	return "0x" + hex.EncodeToString(crypto.Keccak256(buf))
}

// allowlisted reports whether the feed id may back a market.
func (e *Engine) allowlisted(feedID string) bool {
	for _, id := range e.cfg.PriceFeedAllowlist {
		if id == feedID {
			return true
		}
	}
	return false
}

// CanCreateMarket reports whether the creation interval has elapsed since
// the most recent market was created.
func (e *Engine) CanCreateMarket(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCreation.IsZero() || now.Sub(e.lastCreation) >= e.cfg.CreationInterval
}

// CreateMarket opens a new binary market on the given feed, reading the
// initial price from the oracle after applying the update payload. The
// treasury must hold the initial funding in stake tokens and enough native
// currency for the oracle update fee; both sides of the AMM start at the
// initial funding.
func (e *Engine) CreateMarket(ctx context.Context, feedID string, duration time.Duration, update domain.UpdatePayload) (domain.Market, error) {
	if !e.allowlisted(feedID) {
		return domain.Market{}, fmt.Errorf("engine: feed %s: %w", feedID, domain.ErrInvalidFeed)
	}
	if duration < e.cfg.MinDuration || duration > e.cfg.MaxDuration {
		return domain.Market{}, fmt.Errorf("engine: duration %s outside [%s, %s]: %w",
			duration, e.cfg.MinDuration, e.cfg.MaxDuration, domain.ErrInvalidDuration)
	}

	now := e.now()
	if !e.CanCreateMarket(now) {
		return domain.Market{}, fmt.Errorf("engine: %w", domain.ErrIntervalNotElapsed)
	}

	balance, err := e.bank.BalanceOf(ctx, e.treasury)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: treasury balance: %w", err)
	}
	if balance < e.cfg.InitialFunding {
		return domain.Market{}, fmt.Errorf("engine: treasury holds %d, initial funding needs %d: %w",
			balance, e.cfg.InitialFunding, domain.ErrInsufficientTreasury)
	}

	fee, err := e.payUpdateFee(update)
	if err != nil {
		return domain.Market{}, err
	}
	reading, err := e.feed.Fetch(ctx, feedID, update)
	if err != nil {
		e.refundUpdateFee(fee)
		return domain.Market{}, err
	}

	symbol, _ := pricefeed.Symbol(feedID)
	m := domain.Market{
		QuestionID:     e.questionID(feedID, now.Add(duration), now),
		PriceFeedID:    feedID,
		FeedSymbol:     symbol,
		BeginTimestamp: now,
		EndTimestamp:   now.Add(duration),
		InitialPrice:   reading.Price,
		PriceExpo:      reading.Expo,
		Reserves:       [2]int64{e.cfg.InitialFunding, e.cfg.InitialFunding},
		FeeBps:         e.cfg.FeeBps,
		StakePool:      e.cfg.InitialFunding,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	e.mu.Lock()
	prevCreation := e.lastCreation
	e.state[m.QuestionID] = newMarketState(m)
	e.lastCreation = now
	e.mu.Unlock()

	if err := e.persistMarket(ctx, m); err != nil {
		e.mu.Lock()
		delete(e.state, m.QuestionID)
		e.lastCreation = prevCreation
		e.mu.Unlock()
		e.refundUpdateFee(fee)
		return domain.Market{}, err
	}

	e.logger.InfoContext(ctx, "market created",
		slog.String("question_id", m.QuestionID),
		slog.String("feed", m.FeedSymbol),
		slog.Int64("initial_price", m.InitialPrice),
		slog.Time("ends", m.EndTimestamp),
	)
	e.publishMarketCreated(ctx, m)
	e.auditLog(ctx, "market_created", map[string]any{
		"question_id":   m.QuestionID,
		"price_feed_id": m.PriceFeedID,
		"initial_price": m.InitialPrice,
		"end_timestamp": m.EndTimestamp,
	})
	return m, nil
}

// CreateRandomMarket rotates through the feed allowlist and opens a market on
// the next feed in turn. The scheduler calls this on its creation tick.
func (e *Engine) CreateRandomMarket(ctx context.Context, duration time.Duration, update domain.UpdatePayload) (domain.Market, error) {
	if len(e.cfg.PriceFeedAllowlist) == 0 {
		return domain.Market{}, fmt.Errorf("engine: empty feed allowlist: %w", domain.ErrInvalidFeed)
	}
	e.mu.Lock()
	feedID := e.cfg.PriceFeedAllowlist[e.feedCursor%len(e.cfg.PriceFeedAllowlist)]
	e.feedCursor++
	e.mu.Unlock()
	return e.CreateMarket(ctx, feedID, duration, update)
}
