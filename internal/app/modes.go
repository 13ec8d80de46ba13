package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/updownlabs/updown/internal/notify"
	"github.com/updownlabs/updown/internal/scheduler"
	"github.com/updownlabs/updown/internal/server"
	"github.com/updownlabs/updown/internal/server/handler"
	"github.com/updownlabs/updown/internal/server/ws"
)

// ServerMode runs the HTTP + WebSocket API, event notifications, and the
// price streamer. Markets are not auto-created or swept; either run a
// separate monitor instance or use full mode.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startStreamer(ctx, g, deps)
	a.startNotifyListener(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// MonitorMode runs the market lifecycle loops without the HTTP API: the
// scheduler creates and resolves markets, the streamer keeps prices fresh,
// and resolved markets are archived when archival is enabled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startStreamer(ctx, g, deps)
	a.startScheduler(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// FullMode runs every subsystem: the scheduler, the price streamer, the
// archive loop, notifications, and the HTTP + WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startStreamer(ctx, g, deps)
	a.startScheduler(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)
	a.startNotifyListener(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// startStreamer runs the websocket price streamer when one was wired.
func (a *App) startStreamer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Streamer == nil {
		return
	}
	g.Go(func() error {
		err := deps.Streamer.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startScheduler runs the market creation and sweep loops.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sched := scheduler.New(
		scheduler.Config{
			CreationInterval: a.cfg.Market.CreationInterval.Duration,
			MarketDuration:   a.cfg.Market.MarketDuration.Duration,
			SweepInterval:    a.cfg.Market.SweepInterval.Duration,
			RedeemBatchSize:  a.cfg.Market.RedeemBatchSize,
			FeedIDs:          deps.FeedIDs,
		},
		deps.Engine,
		deps.Hermes,
		deps.LockManager,
		a.logger,
	)
	g.Go(func() error {
		return sched.Run(ctx)
	})
}

// startArchiveLoop periodically ships resolved markets and audit history to
// blob storage. It does nothing unless archival was wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				n, err := deps.Archiver.ArchiveResolvedMarkets(ctx, cutoff)
				if err != nil {
					a.logger.WarnContext(ctx, "archive: markets failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archive: markets shipped",
						slog.Int64("count", n),
					)
				}
				if _, err := deps.Archiver.ArchiveAudit(ctx, cutoff); err != nil {
					a.logger.WarnContext(ctx, "archive: audit failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// startNotifyListener bridges signal-bus events to the configured
// notification channels.
func (a *App) startNotifyListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	listener := notify.NewListener(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		err := listener.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startHTTPServer adds the HTTP server and the WebSocket hub to the given
// errgroup. The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(a.logger),
			Markets: handler.NewMarketHandler(deps.Engine, a.logger),
			Trades:  handler.NewTradeHandler(deps.Engine, a.logger),
			Users:   handler.NewUserHandler(deps.Engine, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
