package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Streamer subscribes to the Hermes websocket price stream and advances the
// Oracle with every update, so the query surface and the scheduler see prices
// move between explicit payload-carrying operations. It reconnects with a
// fixed backoff on disconnect.
type Streamer struct {
	wsURL   string
	feedIDs []string
	oracle  *Oracle
	logger  *slog.Logger
}

// NewStreamer creates a Streamer for the given Hermes websocket URL, e.g.
// "wss://hermes.pyth.network/ws".
func NewStreamer(wsURL string, feedIDs []string, oracle *Oracle, logger *slog.Logger) *Streamer {
	return &Streamer{
		wsURL:   wsURL,
		feedIDs: feedIDs,
		oracle:  oracle,
		logger:  logger.With(slog.String("component", "price_stream")),
	}
}

// Run connects and consumes price updates until ctx is cancelled, returning
// ctx.Err(). Disconnects are logged and retried.
func (s *Streamer) Run(ctx context.Context) error {
	if len(s.feedIDs) == 0 {
		s.logger.Info("no feeds to stream, exiting")
		return nil
	}
	for {
		if err := s.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("price stream disconnected, reconnecting",
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// subscribeMsg is the Hermes ws subscription request.
type subscribeMsg struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// streamMsg is one Hermes ws message; only price_update carries a feed.
type streamMsg struct {
	Type      string     `json:"type"`
	PriceFeed hermesFeed `json:"price_feed"`
}

func (s *Streamer) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("pricefeed: dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	ids := make([]string, len(s.feedIDs))
	for i, id := range s.feedIDs {
		ids[i] = strings.TrimPrefix(id, "0x")
	}
	if err := conn.WriteJSON(subscribeMsg{Type: "subscribe", IDs: ids}); err != nil {
		return fmt.Errorf("pricefeed: subscribe: %w", err)
	}
	s.logger.Info("price stream subscribed", slog.Int("feeds", len(ids)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("pricefeed: read: %w", err)
		}

		var msg streamMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("price stream: undecodable message", slog.String("error", err.Error()))
			continue
		}
		if msg.Type != "price_update" {
			continue
		}

		reading, err := msg.PriceFeed.toReading()
		if err != nil {
			s.logger.Warn("price stream: bad reading", slog.String("error", err.Error()))
			continue
		}
		s.oracle.Advance(reading)
	}
}
