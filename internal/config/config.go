// Package config defines the top-level configuration for the market daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Pyth     PythConfig     `toml:"pyth"`
	Custody  CustodyConfig  `toml:"custody"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig holds market creation and AMM parameters.
type MarketConfig struct {
	// Symbols is the allowlist of price feed symbols markets may be
	// created on, e.g. ["ETH/USD", "BTC/USD"].
	Symbols []string `toml:"symbols"`

	// InitialFunding seeds both outcome reserves of a new market.
	InitialFunding int64 `toml:"initial_funding"`

	// FeeBps is the trade fee in basis points, taken off the stake.
	FeeBps int64 `toml:"fee_bps"`

	// CreationInterval is the minimum time between market creations.
	CreationInterval duration `toml:"creation_interval"`

	// MinDuration and MaxDuration bound a market's trading window.
	MinDuration duration `toml:"min_duration"`
	MaxDuration duration `toml:"max_duration"`

	// MarketDuration is the lifetime used for scheduler-created markets.
	MarketDuration duration `toml:"market_duration"`

	// SweepInterval is how often the scheduler resolves expired markets
	// and settles redeemable positions.
	SweepInterval duration `toml:"sweep_interval"`

	// RedeemBatchSize caps how many positions one sweep settles per user.
	RedeemBatchSize int `toml:"redeem_batch_size"`
}

// PythConfig holds the Pyth oracle endpoints and staleness parameters.
type PythConfig struct {
	// HermesURL is the base URL of the Hermes HTTP API.
	HermesURL string `toml:"hermes_url"`

	// StreamURL is the websocket endpoint for live price updates.
	// Leave empty to disable streaming.
	StreamURL string `toml:"stream_url"`

	// UpdateFee is the native-currency cost per price update applied.
	UpdateFee int64 `toml:"update_fee"`

	// MaxPriceAge is how old a stored price may be before it is rejected.
	MaxPriceAge duration `toml:"max_price_age"`

	// RequestTimeout bounds individual Hermes HTTP requests.
	RequestTimeout duration `toml:"request_timeout"`
}

// CustodyConfig holds the treasury account and its budgets.
type CustodyConfig struct {
	// TreasuryAddress is the hex address that holds market funding,
	// collected stakes, and fees.
	TreasuryAddress string `toml:"treasury_address"`

	// TreasuryBalance seeds the treasury's token balance at startup.
	TreasuryBalance int64 `toml:"treasury_balance"`

	// NativeBudget seeds the native-currency budget used to pay oracle
	// update fees.
	NativeBudget int64 `toml:"native_budget"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	// Enabled turns the periodic archive loop on.
	Enabled bool `toml:"enabled"`

	// Interval is how often resolved markets and audit rows are archived.
	Interval duration `toml:"interval"`

	// RetentionDays keeps markets in Postgres for this many days after
	// resolution before they become eligible for archival.
	RetentionDays int `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// APIKey protects mutating endpoints; empty disables authentication.
	APIKey string `toml:"api_key"`

	// RateLimit is requests per client per window; 0 disables limiting.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			Symbols:          []string{"ETH/USD", "BTC/USD"},
			InitialFunding:   1_000_000,
			FeeBps:           200,
			CreationInterval: duration{1 * time.Hour},
			MinDuration:      duration{5 * time.Minute},
			MaxDuration:      duration{72 * time.Hour},
			MarketDuration:   duration{1 * time.Hour},
			SweepInterval:    duration{30 * time.Second},
			RedeemBatchSize:  5,
		},
		Pyth: PythConfig{
			HermesURL:      "https://hermes.pyth.network",
			StreamURL:      "wss://hermes.pyth.network/ws",
			UpdateFee:      1,
			MaxPriceAge:    duration{60 * time.Second},
			RequestTimeout: duration{10 * time.Second},
		},
		Custody: CustodyConfig{
			TreasuryAddress: "0x0000000000000000000000000000000000000001",
			TreasuryBalance: 1_000_000_000,
			NativeBudget:    1_000_000,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "updown",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{1 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "position_redeemed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if len(c.Market.Symbols) == 0 {
		errs = append(errs, "market: symbols must list at least one feed symbol")
	}
	if c.Market.InitialFunding <= 0 {
		errs = append(errs, "market: initial_funding must be > 0")
	}
	if c.Market.FeeBps < 0 || c.Market.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("market: fee_bps must be 0-10000, got %d", c.Market.FeeBps))
	}
	if c.Market.MinDuration.Duration <= 0 {
		errs = append(errs, "market: min_duration must be > 0")
	}
	if c.Market.MaxDuration.Duration < c.Market.MinDuration.Duration {
		errs = append(errs, "market: max_duration must not be less than min_duration")
	}
	if d := c.Market.MarketDuration.Duration; d < c.Market.MinDuration.Duration || d > c.Market.MaxDuration.Duration {
		errs = append(errs, "market: market_duration must lie within [min_duration, max_duration]")
	}
	if c.Market.SweepInterval.Duration <= 0 {
		errs = append(errs, "market: sweep_interval must be > 0")
	}
	if c.Market.RedeemBatchSize < 1 {
		errs = append(errs, "market: redeem_batch_size must be >= 1")
	}

	// Pyth
	if c.Pyth.HermesURL == "" {
		errs = append(errs, "pyth: hermes_url must not be empty")
	}
	if c.Pyth.UpdateFee < 0 {
		errs = append(errs, "pyth: update_fee must be >= 0")
	}
	if c.Pyth.MaxPriceAge.Duration <= 0 {
		errs = append(errs, "pyth: max_price_age must be > 0")
	}

	// Custody
	if !isHexAddress(c.Custody.TreasuryAddress) {
		errs = append(errs, fmt.Sprintf("custody: treasury_address %q is not a valid hex address", c.Custody.TreasuryAddress))
	}
	if c.Custody.TreasuryBalance < c.Market.InitialFunding {
		errs = append(errs, "custody: treasury_balance must cover at least one market's initial_funding")
	}
	if c.Custody.NativeBudget < 0 {
		errs = append(errs, "custody: native_budget must be >= 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only needed when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isHexAddress reports whether s looks like a 20-byte hex address with an
// optional 0x prefix. Kept local so the config package stays free of chain
// dependencies.
func isHexAddress(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
