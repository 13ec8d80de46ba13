package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Signal bus channels for engine lifecycle events.
const (
	ChannelMarketCreated    = "markets.created"
	ChannelPositionBought   = "positions.bought"
	ChannelMarketResolved   = "markets.resolved"
	ChannelPositionRedeemed = "positions.redeemed"
)

// MarketCreatedEvent is published after a market is committed.
type MarketCreatedEvent struct {
	EventID      string    `json:"event_id"`
	QuestionID   string    `json:"question_id"`
	PriceFeedID  string    `json:"price_feed_id"`
	FeedSymbol   string    `json:"feed_symbol"`
	InitialPrice int64     `json:"initial_price"`
	EndTimestamp time.Time `json:"end_timestamp"`
	CreatedAt    time.Time `json:"created_at"`
}

// PositionBoughtEvent is published after a buy is committed.
type PositionBoughtEvent struct {
	EventID    string         `json:"event_id"`
	QuestionID string         `json:"question_id"`
	Buyer      common.Address `json:"buyer"`
	Receiver   common.Address `json:"receiver"`
	Outcome    int            `json:"outcome"`
	Stake      int64          `json:"stake"`
	TokensOut  int64          `json:"tokens_out"`
	Probs      [2]int64       `json:"probabilities"` // parts-per-million
}

// MarketResolvedEvent is published after resolution latches.
type MarketResolvedEvent struct {
	EventID         string    `json:"event_id"`
	QuestionID      string    `json:"question_id"`
	FinalPrice      int64     `json:"final_price"`
	PayoutVector    [2]int64  `json:"payout_vector"`
	AnswerTimestamp time.Time `json:"answer_timestamp"`
}

// PositionRedeemedEvent is published after a redemption pays out.
type PositionRedeemedEvent struct {
	EventID    string         `json:"event_id"`
	QuestionID string         `json:"question_id"`
	Owner      common.Address `json:"owner"`
	Payout     int64          `json:"payout"`
}
