package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/updownlabs/updown/internal/domain"
)

// ProbCache implements domain.ProbabilityCache using Redis hashes. Each
// market's implied probabilities are stored at "updown:prob:{questionID}"
// with fields "up", "down" (parts-per-million) and "ts" (Unix nanoseconds).
type ProbCache struct {
	rdb *redis.Client
}

// NewProbCache creates a ProbCache backed by the given Client.
func NewProbCache(c *Client) *ProbCache {
	return &ProbCache{rdb: c.Underlying()}
}

func probKey(questionID string) string {
	return "updown:prob:" + questionID
}

// Set stores the latest implied probabilities for a market.
func (pc *ProbCache) Set(ctx context.Context, questionID string, probs [2]int64) error {
	fields := map[string]interface{}{
		"up":   strconv.FormatInt(probs[0], 10),
		"down": strconv.FormatInt(probs[1], 10),
		"ts":   strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, probKey(questionID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set probabilities %s: %w", questionID, err)
	}
	return nil
}

// Get retrieves the latest implied probabilities for a market. It returns
// domain.ErrNotFound when the key does not exist.
func (pc *ProbCache) Get(ctx context.Context, questionID string) ([2]int64, error) {
	vals, err := pc.rdb.HGetAll(ctx, probKey(questionID)).Result()
	if err != nil {
		return [2]int64{}, fmt.Errorf("redis: get probabilities %s: %w", questionID, err)
	}
	if len(vals) == 0 {
		return [2]int64{}, domain.ErrNotFound
	}

	var probs [2]int64
	for i, field := range []string{"up", "down"} {
		raw, ok := vals[field]
		if !ok {
			return [2]int64{}, domain.ErrNotFound
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return [2]int64{}, fmt.Errorf("redis: parse probability %s/%s: %w", questionID, field, err)
		}
		probs[i] = v
	}
	return probs, nil
}

var _ domain.ProbabilityCache = (*ProbCache)(nil)
