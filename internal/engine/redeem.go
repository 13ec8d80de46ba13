package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

// RedeemPosition settles one owner's position in a resolved market: both
// outcome balances are burned, and the winning side pays out one stake-token
// base unit per outcome token. Redemption is at-most-once per owner per
// market; a position that already settled fails with ErrAlreadyRedeemed.
func (e *Engine) RedeemPosition(ctx context.Context, owner common.Address, questionID string) (int64, error) {
	st, err := e.getState(questionID)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.market.Resolved {
		return 0, fmt.Errorf("engine: market %s: %w", questionID, domain.ErrMarketNotResolved)
	}
	if st.redeemed[owner] {
		return 0, fmt.Errorf("engine: %s on market %s: %w", owner.Hex(), questionID, domain.ErrAlreadyRedeemed)
	}

	bal := [2]int64{st.balances[0][owner], st.balances[1][owner]}
	if bal[0] == 0 && bal[1] == 0 {
		return 0, fmt.Errorf("engine: no position for %s on market %s: %w", owner.Hex(), questionID, domain.ErrNotFound)
	}

	payout := bal[0]*st.market.PayoutVector[0] + bal[1]*st.market.PayoutVector[1]

	prevMarket := st.market
	prevMinted := st.minted

	delete(st.balances[0], owner)
	delete(st.balances[1], owner)
	st.minted[0] -= bal[0]
	st.minted[1] -= bal[1]
	st.redeemed[owner] = true
	st.market.StakePool -= payout
	st.market.UpdatedAt = e.now()

	rollback := func() {
		st.market = prevMarket
		st.minted = prevMinted
		delete(st.redeemed, owner)
		if bal[0] != 0 {
			st.balances[0][owner] = bal[0]
		}
		if bal[1] != 0 {
			st.balances[1][owner] = bal[1]
		}
		e.restoreStores(ctx, st, owner)
	}

	if payout > 0 {
		if err := e.bank.Transfer(ctx, e.treasury, owner, payout); err != nil {
			rollback()
			return 0, fmt.Errorf("engine: pay out %d to %s: %w", payout, owner.Hex(), err)
		}
	}

	persistErr := e.persistMarket(ctx, st.market)
	if persistErr == nil {
		persistErr = e.persistPosition(ctx, st, owner)
	}
	if persistErr == nil {
		persistErr = e.mutateStats(ctx, owner, func(s *domain.UserStats) {
			s.Open = remove(s.Open, questionID)
			if !contains(s.Closed, questionID) {
				s.Closed = append(s.Closed, questionID)
			}
			s.TotalRedeemed += payout
		})
	}
	if persistErr != nil {
		rollback()
		if payout > 0 {
			if rerr := e.bank.Transfer(ctx, owner, e.treasury, payout); rerr != nil {
				e.logger.ErrorContext(ctx, "payout clawback failed after rollback",
					slog.String("question_id", questionID),
					slog.String("owner", owner.Hex()),
					slog.Int64("payout", payout),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return 0, persistErr
	}

	e.logger.InfoContext(ctx, "position redeemed",
		slog.String("question_id", questionID),
		slog.String("owner", owner.Hex()),
		slog.Int64("payout", payout),
	)
	e.publishPositionRedeemed(ctx, questionID, owner, payout)
	e.auditLog(ctx, "position_redeemed", map[string]any{
		"question_id": questionID,
		"owner":       owner.Hex(),
		"payout":      payout,
		"burned":      bal,
	})
	return payout, nil
}

// RedeemPositions settles up to maxCount of the owner's open positions,
// oldest first, skipping markets that have not resolved yet. It returns the
// settled question ids and the total payout. Individual failures other than
// the skip conditions stop the batch and surface the error alongside the
// partial results.
func (e *Engine) RedeemPositions(ctx context.Context, owner common.Address, maxCount int) ([]string, int64, error) {
	if maxCount <= 0 {
		return nil, 0, fmt.Errorf("engine: redeem batch size %d: %w", maxCount, domain.ErrInvalidAmount)
	}

	e.statsMu.Lock()
	open := append([]string(nil), e.stats[owner].Open...)
	e.statsMu.Unlock()

	var (
		settled []string
		total   int64
	)
	for _, questionID := range open {
		if len(settled) == maxCount {
			break
		}
		payout, err := e.RedeemPosition(ctx, owner, questionID)
		if err != nil {
			if errors.Is(err, domain.ErrMarketNotResolved) {
				continue
			}
			return settled, total, err
		}
		settled = append(settled, questionID)
		total += payout
	}
	return settled, total, nil
}
