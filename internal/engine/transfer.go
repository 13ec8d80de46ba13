package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

// TransferPosition moves outcome tokens of one side between two owners
// within a market. The reserve and the minted totals are untouched, so
// conservation holds by construction. Owners who already redeemed cannot
// send or receive; their settlement is final.
func (e *Engine) TransferPosition(ctx context.Context, questionID string, outcome int, from, to common.Address, amount int64) error {
	if outcome != domain.OutcomeUp && outcome != domain.OutcomeDown {
		return fmt.Errorf("engine: outcome %d: %w", outcome, domain.ErrInvalidOutcome)
	}
	if amount <= 0 {
		return fmt.Errorf("engine: transfer amount %d: %w", amount, domain.ErrInvalidAmount)
	}

	st, err := e.getState(questionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.redeemed[from] || st.redeemed[to] {
		return fmt.Errorf("engine: transfer on market %s: %w", questionID, domain.ErrAlreadyRedeemed)
	}
	fromBal := st.balances[outcome][from]
	if fromBal < amount {
		return fmt.Errorf("engine: %s holds %d of outcome %d on %s: %w",
			from.Hex(), fromBal, outcome, questionID, domain.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}

	toBal := st.balances[outcome][to]
	if fromBal == amount {
		delete(st.balances[outcome], from)
	} else {
		st.balances[outcome][from] = fromBal - amount
	}
	st.balances[outcome][to] = toBal + amount

	rollback := func() {
		st.balances[outcome][from] = fromBal
		if toBal == 0 {
			delete(st.balances[outcome], to)
		} else {
			st.balances[outcome][to] = toBal
		}
		e.restoreStores(ctx, st, from)
		if err := e.persistPosition(ctx, st, to); err != nil {
			e.logger.ErrorContext(ctx, "position restore failed after rollback",
				slog.String("question_id", questionID),
				slog.String("owner", to.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := e.persistPosition(ctx, st, from); err != nil {
		rollback()
		return err
	}
	if err := e.persistPosition(ctx, st, to); err != nil {
		rollback()
		return err
	}

	if st.balances[0][from] == 0 && st.balances[1][from] == 0 {
		if err := e.mutateStats(ctx, from, func(s *domain.UserStats) {
			s.Open = remove(s.Open, questionID)
		}); err != nil {
			rollback()
			return err
		}
	}
	if err := e.mutateStats(ctx, to, func(s *domain.UserStats) {
		if !contains(s.Open, questionID) {
			s.Open = append(s.Open, questionID)
		}
	}); err != nil {
		// Put the sender's aggregate back before unwinding the balances.
		if rerr := e.mutateStats(ctx, from, func(s *domain.UserStats) {
			if !contains(s.Open, questionID) {
				s.Open = append(s.Open, questionID)
			}
		}); rerr != nil {
			e.logger.ErrorContext(ctx, "sender stats restore failed after rollback",
				slog.String("question_id", questionID),
				slog.String("owner", from.Hex()),
				slog.String("error", rerr.Error()),
			)
		}
		rollback()
		return err
	}

	e.logger.InfoContext(ctx, "position transferred",
		slog.String("question_id", questionID),
		slog.Int("outcome", outcome),
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
		slog.Int64("amount", amount),
	)
	e.auditLog(ctx, "position_transferred", map[string]any{
		"question_id": questionID,
		"outcome":     outcome,
		"from":        from.Hex(),
		"to":          to.Hex(),
		"amount":      amount,
	})
	return nil
}
