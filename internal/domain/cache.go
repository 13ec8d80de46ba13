package domain

import (
	"context"
	"io"
	"time"
)

// MarketCache provides fast market lookups in front of the persistent store.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, questionID string) (Market, error)
	Invalidate(ctx context.Context, questionID string) error
}

// ProbabilityCache stores the latest derived outcome probabilities per
// market, in parts-per-million.
type ProbabilityCache interface {
	Set(ctx context.Context, questionID string, probs [2]int64) error
	Get(ctx context.Context, questionID string) ([2]int64, error)
}

// RateLimiter provides distributed request rate limiting for the API
// surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to keep scheduler replicas
// from racing on market creation and resolution.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries engine lifecycle events: ephemeral pub/sub for live
// consumers plus durable streams for replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver snapshots historical records to blob storage.
type Archiver interface {
	ArchiveResolvedMarkets(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
