package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/amm"
	"github.com/updownlabs/updown/internal/domain"
)

// BuyPosition pulls stake from the buyer, prices it against the market's AMM,
// and credits the resulting outcome tokens to the receiver. The whole
// operation is atomic: a pricing failure, a custody failure, or a store
// failure leaves every balance exactly as it was.
//
// minOut is the buyer's slippage floor on outcome tokens received.
func (e *Engine) BuyPosition(ctx context.Context, buyer, receiver common.Address, questionID string, outcome int, stake, minOut int64) (domain.BuyReceipt, error) {
	st, err := e.getState(questionID)
	if err != nil {
		return domain.BuyReceipt{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now()
	switch st.market.Status(now) {
	case domain.MarketStatusResolved:
		return domain.BuyReceipt{}, fmt.Errorf("engine: market %s: %w", questionID, domain.ErrMarketResolved)
	case domain.MarketStatusExpired:
		return domain.BuyReceipt{}, fmt.Errorf("engine: market %s: %w", questionID, domain.ErrMarketExpired)
	}

	quote, err := amm.Buy(st.market.Reserves, outcome, stake, st.market.FeeBps, minOut)
	if err != nil {
		return domain.BuyReceipt{}, fmt.Errorf("engine: price buy on %s: %w", questionID, err)
	}

	// Custody first: if the buyer cannot pay, nothing else happens.
	if err := e.bank.TransferFrom(ctx, e.treasury, buyer, e.treasury, stake); err != nil {
		return domain.BuyReceipt{}, fmt.Errorf("engine: collect stake from %s: %w", buyer.Hex(), err)
	}

	prev := st.market
	prevBalance := st.balances[outcome][receiver]
	prevMinted := st.minted

	st.market.Reserves = quote.Reserves
	st.market.StakePool += quote.Net
	st.market.UpdatedAt = now
	st.minted[0] += quote.Net
	st.minted[1] += quote.Net
	st.balances[outcome][receiver] = prevBalance + quote.TokensOut

	rollback := func() {
		st.market = prev
		st.minted = prevMinted
		if prevBalance == 0 {
			delete(st.balances[outcome], receiver)
		} else {
			st.balances[outcome][receiver] = prevBalance
		}
		if rerr := e.bank.Transfer(ctx, e.treasury, buyer, stake); rerr != nil {
			e.logger.ErrorContext(ctx, "stake refund failed after rollback",
				slog.String("question_id", questionID),
				slog.String("buyer", buyer.Hex()),
				slog.Int64("stake", stake),
				slog.String("error", rerr.Error()),
			)
		}
		e.restoreStores(ctx, st, receiver)
	}

	if err := e.persistMarket(ctx, st.market); err != nil {
		rollback()
		return domain.BuyReceipt{}, err
	}
	if err := e.persistPosition(ctx, st, receiver); err != nil {
		rollback()
		return domain.BuyReceipt{}, err
	}
	if err := e.mutateStats(ctx, receiver, func(s *domain.UserStats) {
		s.TotalSpending += stake
		if !contains(s.Open, questionID) {
			s.Open = append(s.Open, questionID)
		}
	}); err != nil {
		rollback()
		return domain.BuyReceipt{}, err
	}

	receipt := domain.BuyReceipt{
		QuestionID: questionID,
		Outcome:    outcome,
		Receiver:   receiver,
		Stake:      stake,
		Fee:        quote.Fee,
		TokensOut:  quote.TokensOut,
		Reserves:   quote.Reserves,
	}
	probs := amm.Probabilities(quote.Reserves)

	e.logger.InfoContext(ctx, "position bought",
		slog.String("question_id", questionID),
		slog.String("buyer", buyer.Hex()),
		slog.Int("outcome", outcome),
		slog.Int64("stake", stake),
		slog.Int64("tokens_out", quote.TokensOut),
	)
	e.cacheProbabilities(ctx, questionID, probs)
	e.publishPositionBought(ctx, receipt, buyer, probs)
	e.auditLog(ctx, "position_bought", map[string]any{
		"question_id": questionID,
		"buyer":       buyer.Hex(),
		"receiver":    receiver.Hex(),
		"outcome":     outcome,
		"stake":       stake,
		"fee":         quote.Fee,
		"tokens_out":  quote.TokensOut,
	})
	return receipt, nil
}

func (e *Engine) cacheProbabilities(ctx context.Context, questionID string, probs [2]int64) {
	if e.probCache == nil {
		return
	}
	if err := e.probCache.Set(ctx, questionID, probs); err != nil {
		e.logger.WarnContext(ctx, "probability cache set failed",
			slog.String("question_id", questionID),
			slog.String("error", err.Error()),
		)
	}
}
