package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

const sweepLock = "scheduler:sweep"

// runSweepLoop resolves expired markets and settles user positions on every
// sweep interval. The first sweep happens immediately on start.
func (s *Scheduler) runSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.sweepTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepTick(ctx)
		}
	}
}

func (s *Scheduler) sweepTick(ctx context.Context) {
	err := s.withLock(ctx, sweepLock, s.cfg.SweepInterval, func(ctx context.Context) error {
		s.resolveExpired(ctx)
		s.redeemSettled(ctx)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "sweep tick failed", slog.String("error", err.Error()))
	}
}

// resolveExpired resolves every market past its end. A failure on one market
// never blocks the rest of the sweep.
func (s *Scheduler) resolveExpired(ctx context.Context) {
	for _, questionID := range s.eng.ExpiredMarketIDs(ctx) {
		m, _, err := s.eng.GetMarket(ctx, questionID)
		if err != nil {
			continue
		}
		update := s.fetchUpdate(ctx, m.PriceFeedID)
		resolved, err := s.eng.ResolveMarket(ctx, questionID, update, false, "scheduled sweep")
		if err != nil {
			if errors.Is(err, domain.ErrMarketAlreadyResolved) {
				continue
			}
			s.logger.WarnContext(ctx, "resolve failed",
				slog.String("question_id", questionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.InfoContext(ctx, "resolved expired market",
			slog.String("question_id", questionID),
			slog.Int64("final_price", resolved.FinalPrice),
			slog.Bool("up_wins", resolved.PayoutVector[domain.OutcomeUp] == 1),
		)
	}
}

// redeemSettled settles up to the batch size of resolved positions per user.
// Remaining positions wait for the next sweep, which bounds work per tick.
func (s *Scheduler) redeemSettled(ctx context.Context) {
	batch := s.cfg.RedeemBatchSize
	if batch <= 0 {
		batch = 5
	}
	for _, owner := range s.eng.UserAddresses() {
		settled, total, err := s.eng.RedeemPositions(ctx, owner, batch)
		if err != nil {
			s.logger.WarnContext(ctx, "redeem sweep failed for user",
				slog.String("owner", owner.Hex()),
				slog.String("error", err.Error()),
			)
		}
		if len(settled) > 0 {
			s.logger.InfoContext(ctx, "settled positions",
				slog.String("owner", owner.Hex()),
				slog.Int("count", len(settled)),
				slog.Int64("payout", total),
			)
		}
	}
}
