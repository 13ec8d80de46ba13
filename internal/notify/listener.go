package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/updownlabs/updown/internal/domain"
)

// Event type names used for notification filtering.
const (
	EventMarketCreated    = "market_created"
	EventMarketResolved   = "market_resolved"
	EventPositionRedeemed = "position_redeemed"
)

// Listener subscribes to the engine's signal bus and forwards lifecycle
// events as operator notifications.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewListener creates a Listener over the given bus and notifier.
func NewListener(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes events until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.consume(ctx, domain.ChannelMarketCreated, l.onMarketCreated) })
	g.Go(func() error { return l.consume(ctx, domain.ChannelMarketResolved, l.onMarketResolved) })
	g.Go(func() error { return l.consume(ctx, domain.ChannelPositionRedeemed, l.onPositionRedeemed) })
	return g.Wait()
}

func (l *Listener) consume(ctx context.Context, channel string, handle func(context.Context, []byte)) error {
	ch, err := l.bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", channel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			handle(ctx, payload)
		}
	}
}

func (l *Listener) onMarketCreated(ctx context.Context, payload []byte) {
	var ev domain.MarketCreatedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		l.warnDecode(ctx, domain.ChannelMarketCreated, err)
		return
	}
	_ = l.notifier.Notify(ctx, EventMarketCreated,
		"Market created",
		fmt.Sprintf("%s market %s ends %s (initial price %d)",
			ev.FeedSymbol, short(ev.QuestionID), ev.EndTimestamp.Format("15:04:05 MST"), ev.InitialPrice),
	)
}

func (l *Listener) onMarketResolved(ctx context.Context, payload []byte) {
	var ev domain.MarketResolvedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		l.warnDecode(ctx, domain.ChannelMarketResolved, err)
		return
	}
	winner := "UP"
	if ev.PayoutVector[domain.OutcomeDown] == 1 {
		winner = "DOWN"
	}
	_ = l.notifier.Notify(ctx, EventMarketResolved,
		"Market resolved",
		fmt.Sprintf("market %s resolved %s at price %d", short(ev.QuestionID), winner, ev.FinalPrice),
	)
}

func (l *Listener) onPositionRedeemed(ctx context.Context, payload []byte) {
	var ev domain.PositionRedeemedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		l.warnDecode(ctx, domain.ChannelPositionRedeemed, err)
		return
	}
	_ = l.notifier.Notify(ctx, EventPositionRedeemed,
		"Position redeemed",
		fmt.Sprintf("%s redeemed %d on market %s", ev.Owner.Hex(), ev.Payout, short(ev.QuestionID)),
	)
}

func (l *Listener) warnDecode(ctx context.Context, channel string, err error) {
	l.logger.WarnContext(ctx, "undecodable event",
		slog.String("channel", channel),
		slog.String("error", err.Error()),
	)
}

// short truncates a question id for human-readable messages.
func short(questionID string) string {
	if len(questionID) <= 12 {
		return questionID
	}
	return questionID[:12] + "…"
}
