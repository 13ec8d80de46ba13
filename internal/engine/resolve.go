package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/updownlabs/updown/internal/domain"
)

// ResolveMarket latches a market's final price and payout vector. Resolution
// normally requires the market to be past its end; force overrides that for
// operator intervention. The UP side wins when the final price is at or above
// the initial price, so an exact tie resolves UP. Resolution is one-way and
// at-most-once: a second attempt fails with ErrMarketAlreadyResolved.
func (e *Engine) ResolveMarket(ctx context.Context, questionID string, update domain.UpdatePayload, force bool, note string) (domain.Market, error) {
	st, err := e.getState(questionID)
	if err != nil {
		return domain.Market{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now()
	if st.market.Resolved {
		return domain.Market{}, fmt.Errorf("engine: market %s: %w", questionID, domain.ErrMarketAlreadyResolved)
	}
	if !force && now.Before(st.market.EndTimestamp) {
		return domain.Market{}, fmt.Errorf("engine: market %s ends %s: %w",
			questionID, st.market.EndTimestamp, domain.ErrMarketStillActive)
	}

	fee, err := e.payUpdateFee(update)
	if err != nil {
		return domain.Market{}, err
	}
	reading, err := e.feed.Fetch(ctx, st.market.PriceFeedID, update)
	if err != nil {
		e.refundUpdateFee(fee)
		return domain.Market{}, err
	}

	prev := st.market

	st.market.FinalPrice = reading.Price
	st.market.Resolved = true
	st.market.AnswerTimestamp = now
	st.market.Note = note
	st.market.UpdatedAt = now
	if reading.Price >= st.market.InitialPrice {
		st.market.PayoutVector = [2]int64{1, 0}
	} else {
		st.market.PayoutVector = [2]int64{0, 1}
	}

	if err := e.persistMarket(ctx, st.market); err != nil {
		st.market = prev
		e.refundUpdateFee(fee)
		return domain.Market{}, err
	}

	e.logger.InfoContext(ctx, "market resolved",
		slog.String("question_id", questionID),
		slog.String("feed", st.market.FeedSymbol),
		slog.Int64("initial_price", st.market.InitialPrice),
		slog.Int64("final_price", st.market.FinalPrice),
		slog.Bool("up_wins", st.market.PayoutVector[domain.OutcomeUp] == 1),
		slog.Bool("forced", force),
	)
	e.publishMarketResolved(ctx, st.market)
	e.auditLog(ctx, "market_resolved", map[string]any{
		"question_id":   questionID,
		"final_price":   st.market.FinalPrice,
		"payout_vector": st.market.PayoutVector,
		"forced":        force,
		"note":          note,
	})
	return st.market, nil
}
