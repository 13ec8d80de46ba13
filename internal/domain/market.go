// Package domain defines the core types, interfaces, and sentinel errors of
// the updown prediction market engine. All monetary quantities are int64
// values in the stake token's base unit (1 token = 1e6 base units).
package domain

import "time"

// TokenScale is the number of base units per whole stake token.
const TokenScale int64 = 1_000_000

// Outcome indexes into the two complementary sides of a binary market.
const (
	OutcomeUp   = 0 // pays out when the final price is at or above the initial price
	OutcomeDown = 1
)

// MarketStatus is the derived lifecycle state of a market. Only "resolved" is
// stored; "expired" is computed from the clock.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusExpired  MarketStatus = "expired"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is a binary price-direction question: will the asset trade at or
// above its creation-time price when the market ends. Markets are permanent
// records; resolution latches exactly once and is never reversed.
type Market struct {
	// QuestionID is the content-addressed identifier, a 0x-prefixed keccak256
	// hash of the creation inputs.
	QuestionID  string `json:"question_id"`
	PriceFeedID string `json:"price_feed_id"`
	FeedSymbol  string `json:"feed_symbol"` // e.g. "ETH/USD"

	BeginTimestamp time.Time `json:"begin_timestamp"`
	EndTimestamp   time.Time `json:"end_timestamp"`

	// InitialPrice and FinalPrice are exponent-scaled oracle integers; the
	// real price is Price * 10^PriceExpo.
	InitialPrice int64 `json:"initial_price"`
	FinalPrice   int64 `json:"final_price"`
	PriceExpo    int32 `json:"price_expo"`

	// Reserves are the AMM's own outcome-token holdings, indexed by outcome.
	// Both start equal to the initial funding and stay strictly positive.
	Reserves [2]int64 `json:"reserves"`
	FeeBps   int64    `json:"fee_bps"`

	// StakePool is the total stake-token custody attributable to this market:
	// initial funding plus every net stake bought in, minus redemptions.
	StakePool int64 `json:"stake_pool"`

	Resolved bool `json:"resolved"`
	// AnswerTimestamp is set exactly once at resolution and is the sole
	// resolution marker: AnswerTimestamp.IsZero() == !Resolved.
	AnswerTimestamp time.Time `json:"answer_timestamp"`
	// PayoutVector maps outcome index to redemption value per token, in
	// whole units (winner-take-all: one entry 1, the other 0).
	PayoutVector [2]int64 `json:"payout_vector"`
	// Note is an optional caller-supplied resolution annotation.
	Note string `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives the lifecycle state at the given instant.
func (m *Market) Status(now time.Time) MarketStatus {
	switch {
	case m.Resolved:
		return MarketStatusResolved
	case !now.Before(m.EndTimestamp):
		return MarketStatusExpired
	default:
		return MarketStatusOpen
	}
}

// Expired reports whether the market is past its end and still unresolved.
func (m *Market) Expired(now time.Time) bool {
	return !m.Resolved && !now.Before(m.EndTimestamp)
}

// MarketConfig is the global market-creation configuration exposed on the
// query surface.
type MarketConfig struct {
	PriceFeedAllowlist []string      `json:"price_feed_allowlist"`
	InitialFunding     int64         `json:"initial_funding"`
	FeeBps             int64         `json:"fee_bps"`
	CreationInterval   time.Duration `json:"creation_interval"`
	MinDuration        time.Duration `json:"min_duration"`
	MaxDuration        time.Duration `json:"max_duration"`
}
