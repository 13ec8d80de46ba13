package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// Oracle implements domain.PriceFeed. It keeps the latest applied reading per
// feed; callers push externally fetched update payloads on each
// price-dependent operation, and a streaming source may advance readings in
// the background. Each applied payload entry costs feePerUpdate in native
// currency.
type Oracle struct {
	feePerUpdate int64
	maxAge       time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	latest map[string]domain.PriceReading

	now func() time.Time
}

// NewOracle creates an Oracle with the given per-entry update fee and
// default staleness bound for Fetch.
func NewOracle(feePerUpdate int64, maxAge time.Duration, logger *slog.Logger) *Oracle {
	return &Oracle{
		feePerUpdate: feePerUpdate,
		maxAge:       maxAge,
		logger:       logger.With(slog.String("component", "pricefeed")),
		latest:       make(map[string]domain.PriceReading),
		now:          time.Now,
	}
}

// UpdateFee returns the native-currency cost of applying the payload.
func (o *Oracle) UpdateFee(update domain.UpdatePayload) int64 {
	return o.feePerUpdate * int64(len(update))
}

// Advance stores a reading if it is newer than the one already held for the
// feed. It returns true when the stored price moved forward.
func (o *Oracle) Advance(reading domain.PriceReading) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	cur, ok := o.latest[reading.FeedID]
	if ok && !reading.PublishTime.After(cur.PublishTime) {
		return false
	}
	o.latest[reading.FeedID] = reading
	return true
}

// applyUpdate decodes each payload entry as a JSON reading and advances the
// stored price. Undecodable entries fail the whole call: an operation that
// paid for an update must not silently proceed on stale data.
func (o *Oracle) applyUpdate(ctx context.Context, update domain.UpdatePayload) error {
	for i, entry := range update {
		var reading domain.PriceReading
		if err := json.Unmarshal(entry, &reading); err != nil {
			return fmt.Errorf("pricefeed: decode update entry %d: %w", i, err)
		}
		if o.Advance(reading) {
			o.logger.DebugContext(ctx, "price advanced",
				slog.String("feed_id", reading.FeedID),
				slog.Int64("price", reading.Price),
				slog.Time("publish_time", reading.PublishTime),
			)
		}
	}
	return nil
}

// Fetch applies the update payload and returns the stored latest reading for
// the feed, subject to the Oracle's default staleness bound.
func (o *Oracle) Fetch(ctx context.Context, feedID string, update domain.UpdatePayload) (domain.PriceReading, error) {
	return o.FetchNoOlderThan(ctx, feedID, update, o.maxAge)
}

// FetchNoOlderThan applies the update payload and returns the stored latest
// reading if it is no older than maxAge. It fails with ErrStalePrice when no
// reading exists or the latest one is too old.
func (o *Oracle) FetchNoOlderThan(ctx context.Context, feedID string, update domain.UpdatePayload, maxAge time.Duration) (domain.PriceReading, error) {
	if err := o.applyUpdate(ctx, update); err != nil {
		return domain.PriceReading{}, err
	}

	o.mu.RLock()
	reading, ok := o.latest[feedID]
	o.mu.RUnlock()

	if !ok {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: feed %s: %w", feedID, domain.ErrStalePrice)
	}
	if maxAge > 0 && o.now().Sub(reading.PublishTime) > maxAge {
		return domain.PriceReading{}, fmt.Errorf("pricefeed: feed %s last published %s ago: %w",
			feedID, o.now().Sub(reading.PublishTime).Truncate(time.Second), domain.ErrStalePrice)
	}
	return reading, nil
}

// EncodeUpdate serializes readings into the payload format applyUpdate
// consumes. The Hermes client and tests both produce payloads through this.
func EncodeUpdate(readings ...domain.PriceReading) (domain.UpdatePayload, error) {
	payload := make(domain.UpdatePayload, 0, len(readings))
	for _, r := range readings {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("pricefeed: encode reading for %s: %w", r.FeedID, err)
		}
		payload = append(payload, data)
	}
	return payload, nil
}

// Compile-time interface check.
var _ domain.PriceFeed = (*Oracle)(nil)
