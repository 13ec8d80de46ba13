// Package scheduler runs the engine's background loops: periodic market
// creation on a feed rotation, and a resolution sweep that settles expired
// markets and redeems positions on behalf of users. Replicas coordinate
// through the distributed lock manager so each tick's work happens once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/updownlabs/updown/internal/domain"
)

// updateSource fetches fresh oracle update payloads. The Hermes client
// implements it; a nil source means the oracle is advanced elsewhere (e.g.
// the websocket streamer) and operations run without payloads.
type updateSource interface {
	FetchUpdate(ctx context.Context, feedIDs ...string) ([]domain.PriceReading, domain.UpdatePayload, error)
}

// marketEngine is the slice of the engine the scheduler drives.
type marketEngine interface {
	CanCreateMarket(now time.Time) bool
	CreateRandomMarket(ctx context.Context, duration time.Duration, update domain.UpdatePayload) (domain.Market, error)
	ResolveMarket(ctx context.Context, questionID string, update domain.UpdatePayload, force bool, note string) (domain.Market, error)
	GetMarket(ctx context.Context, questionID string) (domain.Market, domain.MarketStatus, error)
	ExpiredMarketIDs(ctx context.Context) []string
	UserAddresses() []common.Address
	RedeemPositions(ctx context.Context, owner common.Address, maxCount int) ([]string, int64, error)
}

// Config controls the scheduler's cadence.
type Config struct {
	CreationInterval time.Duration // how often to try opening a market
	MarketDuration   time.Duration // lifetime of auto-created markets
	SweepInterval    time.Duration // how often to resolve and redeem
	RedeemBatchSize  int           // positions settled per user per sweep
	FeedIDs          []string      // feeds to prefetch oracle updates for
}

// Scheduler owns the creation and sweep loops.
type Scheduler struct {
	cfg    Config
	eng    marketEngine
	source updateSource
	locks  domain.LockManager
	logger *slog.Logger
}

// New builds a Scheduler. source and locks may be nil: without a source,
// operations run on the oracle's stored prices; without locks, the scheduler
// assumes it is the only replica.
func New(cfg Config, eng marketEngine, source updateSource, locks domain.LockManager, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		eng:    eng,
		source: source,
		locks:  locks,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Run drives both loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Duration("creation_interval", s.cfg.CreationInterval),
		slog.Duration("sweep_interval", s.cfg.SweepInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.runCreationLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("scheduler: creation loop: %w", err)
	})
	g.Go(func() error {
		err := s.runSweepLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("scheduler: sweep loop: %w", err)
	})
	return g.Wait()
}

// withLock runs fn under the named distributed lock, or directly when no lock
// manager is configured. A held lock means another replica took the tick.
func (s *Scheduler) withLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if s.locks == nil {
		return fn(ctx)
	}
	unlock, err := s.locks.Acquire(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "tick skipped, lock held elsewhere", slog.String("lock", key))
			return nil
		}
		return err
	}
	defer unlock()
	return fn(ctx)
}

// fetchUpdate pulls a fresh payload for the feeds, tolerating source
// failures: the operation then runs on whatever the oracle already holds.
func (s *Scheduler) fetchUpdate(ctx context.Context, feedIDs ...string) domain.UpdatePayload {
	if s.source == nil || len(feedIDs) == 0 {
		return nil
	}
	_, payload, err := s.source.FetchUpdate(ctx, feedIDs...)
	if err != nil {
		s.logger.WarnContext(ctx, "update fetch failed, proceeding on stored prices",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return payload
}
