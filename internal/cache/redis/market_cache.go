package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/updownlabs/updown/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized Market data and a secondary feed-to-markets index.
//
// Key schema:
//
//	updown:market:{questionID}  - hash with field "data" containing JSON
//	updown:market:feed:{feedID} - set of question ids on the feed
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(questionID string) string { return "updown:market:" + questionID }
func marketFeedKey(feedID string) string { return "updown:market:feed:" + feedID }

// Set stores a Market with a 5-minute TTL and indexes it under its feed.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", market.QuestionID, err)
	}

	key := marketKey(market.QuestionID)
	feedKey := marketFeedKey(market.PriceFeedID)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, marketTTL)
	pipe.SAdd(ctx, feedKey, market.QuestionID)
	pipe.Expire(ctx, feedKey, marketTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", market.QuestionID, err)
	}
	return nil
}

// Get retrieves a Market by question id. It returns domain.ErrNotFound when
// the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, questionID string) (domain.Market, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(questionID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", questionID, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", questionID, err)
	}
	return m, nil
}

// Invalidate removes a Market from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, questionID string) error {
	if err := mc.rdb.Del(ctx, marketKey(questionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", questionID, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
