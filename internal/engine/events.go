package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/updownlabs/updown/internal/domain"
)

// publish sends an event to the signal bus, both on the ephemeral channel and
// appended to the durable stream of the same name. Bus failures are logged,
// never surfaced: events describe committed state, they cannot veto it.
func (e *Engine) publish(ctx context.Context, channel string, event any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.ErrorContext(ctx, "event marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, channel, payload); err != nil {
		e.logger.WarnContext(ctx, "event stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publishMarketCreated(ctx context.Context, m domain.Market) {
	e.publish(ctx, domain.ChannelMarketCreated, domain.MarketCreatedEvent{
		EventID:      uuid.NewString(),
		QuestionID:   m.QuestionID,
		PriceFeedID:  m.PriceFeedID,
		FeedSymbol:   m.FeedSymbol,
		InitialPrice: m.InitialPrice,
		EndTimestamp: m.EndTimestamp,
		CreatedAt:    m.CreatedAt,
	})
}

func (e *Engine) publishPositionBought(ctx context.Context, r domain.BuyReceipt, buyer common.Address, probs [2]int64) {
	e.publish(ctx, domain.ChannelPositionBought, domain.PositionBoughtEvent{
		EventID:    uuid.NewString(),
		QuestionID: r.QuestionID,
		Buyer:      buyer,
		Receiver:   r.Receiver,
		Outcome:    r.Outcome,
		Stake:      r.Stake,
		TokensOut:  r.TokensOut,
		Probs:      probs,
	})
}

func (e *Engine) publishMarketResolved(ctx context.Context, m domain.Market) {
	e.publish(ctx, domain.ChannelMarketResolved, domain.MarketResolvedEvent{
		EventID:         uuid.NewString(),
		QuestionID:      m.QuestionID,
		FinalPrice:      m.FinalPrice,
		PayoutVector:    m.PayoutVector,
		AnswerTimestamp: m.AnswerTimestamp,
	})
}

func (e *Engine) publishPositionRedeemed(ctx context.Context, questionID string, owner common.Address, payout int64) {
	e.publish(ctx, domain.ChannelPositionRedeemed, domain.PositionRedeemedEvent{
		EventID:    uuid.NewString(),
		QuestionID: questionID,
		Owner:      owner,
		Payout:     payout,
	})
}
