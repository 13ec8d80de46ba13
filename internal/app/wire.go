package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/updownlabs/updown/internal/blob/s3"
	"github.com/updownlabs/updown/internal/cache/redis"
	"github.com/updownlabs/updown/internal/config"
	"github.com/updownlabs/updown/internal/custody"
	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/engine"
	"github.com/updownlabs/updown/internal/notify"
	"github.com/updownlabs/updown/internal/pricefeed"
	"github.com/updownlabs/updown/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	PositionStore domain.PositionStore
	UserStore     domain.UserStore
	AuditStore    domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	ProbCache   domain.ProbabilityCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (only when archival is enabled)
	Archiver domain.Archiver

	// Oracle
	Oracle   *pricefeed.Oracle
	Hermes   *pricefeed.HermesClient
	Streamer *pricefeed.Streamer
	FeedIDs  []string

	// Core
	Bank   *custody.Bank
	Engine *engine.Engine

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	marketStore := postgres.NewMarketStore(pool)
	positionStore := postgres.NewPositionStore(pool)
	deps.MarketStore = marketStore
	deps.PositionStore = positionStore
	deps.UserStore = postgres.NewUserStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.ProbCache = redis.NewProbCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when archival is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			marketStore,
			positionStore,
			deps.AuditStore,
		)
	}

	// --- Oracle ---
	feedIDs := make([]string, 0, len(cfg.Market.Symbols))
	for _, sym := range cfg.Market.Symbols {
		id, ok := pricefeed.FeedID(sym)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: unknown feed symbol %q (known: %v)", sym, pricefeed.Symbols())
		}
		feedIDs = append(feedIDs, id)
	}
	deps.FeedIDs = feedIDs

	deps.Oracle = pricefeed.NewOracle(cfg.Pyth.UpdateFee, cfg.Pyth.MaxPriceAge.Duration, logger)
	deps.Hermes = pricefeed.NewHermesClient(cfg.Pyth.HermesURL, cfg.Pyth.RequestTimeout.Duration)
	if cfg.Pyth.StreamURL != "" {
		deps.Streamer = pricefeed.NewStreamer(cfg.Pyth.StreamURL, feedIDs, deps.Oracle, logger)
	}

	// --- Custody and engine ---
	treasury := common.HexToAddress(cfg.Custody.TreasuryAddress)
	bank := custody.NewBank()
	if err := bank.Mint(treasury, cfg.Custody.TreasuryBalance); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed treasury: %w", err)
	}
	deps.Bank = bank

	eng := engine.New(
		domain.MarketConfig{
			PriceFeedAllowlist: feedIDs,
			InitialFunding:     cfg.Market.InitialFunding,
			FeeBps:             cfg.Market.FeeBps,
			CreationInterval:   cfg.Market.CreationInterval.Duration,
			MinDuration:        cfg.Market.MinDuration.Duration,
			MaxDuration:        cfg.Market.MaxDuration.Duration,
		},
		bank,
		deps.Oracle,
		treasury,
		deps.MarketStore,
		deps.PositionStore,
		deps.UserStore,
		engine.Options{
			Bus:         deps.SignalBus,
			MarketCache: deps.MarketCache,
			ProbCache:   deps.ProbCache,
			Audit:       deps.AuditStore,
		},
		logger,
	)
	if err := eng.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: engine load: %w", err)
	}
	if err := eng.FundNative(cfg.Custody.NativeBudget); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: fund native budget: %w", err)
	}
	deps.Engine = eng

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
