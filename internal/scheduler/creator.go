package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

const creationLock = "scheduler:create"

// runCreationLoop opens a market on the feed rotation every creation
// interval. The first attempt happens immediately on start.
func (s *Scheduler) runCreationLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CreationInterval)
	defer ticker.Stop()

	s.createTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.createTick(ctx)
		}
	}
}

// createTick attempts one market creation. Every failure mode here is
// expected operational noise (interval raced by another replica, treasury
// drained, stale oracle), so failures log and wait for the next tick rather
// than killing the loop.
func (s *Scheduler) createTick(ctx context.Context) {
	err := s.withLock(ctx, creationLock, s.cfg.CreationInterval, func(ctx context.Context) error {
		if !s.eng.CanCreateMarket(time.Now()) {
			return nil
		}
		update := s.fetchUpdate(ctx, s.cfg.FeedIDs...)
		m, err := s.eng.CreateRandomMarket(ctx, s.cfg.MarketDuration, update)
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "auto-created market",
			slog.String("question_id", m.QuestionID),
			slog.String("feed", m.FeedSymbol),
			slog.Time("ends", m.EndTimestamp),
		)
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIntervalNotElapsed):
	case errors.Is(err, context.Canceled):
	default:
		s.logger.WarnContext(ctx, "market creation tick failed", slog.String("error", err.Error()))
	}
}
