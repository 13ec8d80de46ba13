package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// MarketService defines what the market handler needs from the engine. It is
// declared locally so the handler package does not depend on the concrete
// engine implementation.
type MarketService interface {
	Config() domain.MarketConfig
	GetMarket(ctx context.Context, questionID string) (domain.Market, domain.MarketStatus, error)
	ListMarkets(ctx context.Context) []domain.Market
	ActiveMarkets(ctx context.Context) []domain.Market
	Probabilities(ctx context.Context, questionID string) ([2]int64, error)
	CreateMarket(ctx context.Context, feedID string, duration time.Duration, update domain.UpdatePayload) (domain.Market, error)
	ResolveMarket(ctx context.Context, questionID string, update domain.UpdatePayload, force bool, note string) (domain.Market, error)
}

// MarketHandler serves market lifecycle and query endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// marketView decorates a market with its derived lifecycle status.
type marketView struct {
	domain.Market
	Status domain.MarketStatus `json:"status"`
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets with pagination. By default only open markets
// are returned; ?all=true includes expired and resolved ones.
// GET /api/markets?limit=50&offset=0&all=true
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var markets []domain.Market
	if r.URL.Query().Get("all") == "true" {
		markets = h.markets.ListMarkets(r.Context())
	} else {
		markets = h.markets.ActiveMarkets(r.Context())
	}

	total := len(markets)
	lo := opts.Offset
	if lo > total {
		lo = total
	}
	hi := lo + opts.Limit
	if hi > total {
		hi = total
	}

	now := time.Now()
	views := make([]marketView, 0, hi-lo)
	for _, m := range markets[lo:hi] {
		views = append(views, marketView{Market: m, Status: m.Status(now)})
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by question id.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, status, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketView{Market: m, Status: status})
}

// GetProbabilities returns the implied outcome probabilities for a market in
// parts-per-million.
// GET /api/markets/{id}/probabilities
func (h *MarketHandler) GetProbabilities(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	probs, err := h.markets.Probabilities(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"question_id": id,
		"up":          probs[domain.OutcomeUp],
		"down":        probs[domain.OutcomeDown],
		"scale":       1_000_000,
	})
}

// GetConfig returns the market-creation configuration.
// GET /api/config
func (h *MarketHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.markets.Config())
}

// createMarketRequest is the body for market creation.
type createMarketRequest struct {
	PriceFeedID     string   `json:"price_feed_id"`
	DurationSeconds int64    `json:"duration_seconds"`
	Update          []string `json:"update,omitempty"` // base64-free raw JSON entries
}

// CreateMarket opens a new market on a feed.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), req.PriceFeedID,
		time.Duration(req.DurationSeconds)*time.Second, toPayload(req.Update))
	if err != nil {
		h.logger.WarnContext(r.Context(), "create market failed",
			slog.String("feed", req.PriceFeedID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, marketView{Market: m, Status: domain.MarketStatusOpen})
}

// resolveMarketRequest is the body for market resolution.
type resolveMarketRequest struct {
	Force  bool     `json:"force,omitempty"`
	Note   string   `json:"note,omitempty"`
	Update []string `json:"update,omitempty"`
}

// ResolveMarket latches a market's outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req resolveMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	m, err := h.markets.ResolveMarket(r.Context(), id, toPayload(req.Update), req.Force, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketView{Market: m, Status: domain.MarketStatusResolved})
}

// toPayload converts request update entries into an oracle payload.
func toPayload(entries []string) domain.UpdatePayload {
	if len(entries) == 0 {
		return nil
	}
	payload := make(domain.UpdatePayload, 0, len(entries))
	for _, e := range entries {
		payload = append(payload, []byte(e))
	}
	return payload
}
