package domain

import (
	"context"
	"time"
)

// PriceReading is a single timestamped oracle observation. The real price is
// Price * 10^Expo; Conf is the oracle's symmetric confidence interval in the
// same scale.
type PriceReading struct {
	FeedID      string    `json:"feed_id"`
	Price       int64     `json:"price"`
	Conf        uint64    `json:"conf"`
	Expo        int32     `json:"expo"`
	PublishTime time.Time `json:"publish_time"`
}

// UpdatePayload is an opaque bundle of externally fetched oracle update data.
// Price-dependent operations carry one so the adapter can advance its stored
// prices before reading (push-based oracle pattern).
type UpdatePayload [][]byte

// PriceFeed is the read boundary to the external price oracle. Fetch applies
// the update payload (if any), charges the update fee against the caller's
// native-currency budget, then returns the stored latest reading. Both calls
// fail with ErrStalePrice when no fresh-enough data exists; neither retries.
type PriceFeed interface {
	// Fetch returns the latest stored reading for the feed after applying
	// update, subject to the adapter's default staleness bound.
	Fetch(ctx context.Context, feedID string, update UpdatePayload) (PriceReading, error)

	// FetchNoOlderThan is Fetch with an explicit maximum reading age.
	FetchNoOlderThan(ctx context.Context, feedID string, update UpdatePayload, maxAge time.Duration) (PriceReading, error)

	// UpdateFee returns the native-currency cost of applying the payload.
	UpdateFee(update UpdatePayload) int64
}
