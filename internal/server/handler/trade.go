package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/amm"
	"github.com/updownlabs/updown/internal/domain"
)

// TradeService defines what the trade handler needs from the engine.
type TradeService interface {
	Quote(ctx context.Context, questionID string, outcome int, stake int64) (amm.Quote, error)
	BuyPosition(ctx context.Context, buyer, receiver common.Address, questionID string, outcome int, stake, minOut int64) (domain.BuyReceipt, error)
	RedeemPosition(ctx context.Context, owner common.Address, questionID string) (int64, error)
	TransferPosition(ctx context.Context, questionID string, outcome int, from, to common.Address, amount int64) error
}

// TradeHandler serves buy and redeem endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// buyRequest is the body for a position purchase.
type buyRequest struct {
	Buyer    string `json:"buyer"`
	Receiver string `json:"receiver,omitempty"` // defaults to buyer
	Outcome  int    `json:"outcome"`
	Stake    int64  `json:"stake"`
	MinOut   int64  `json:"min_out,omitempty"`
}

// Buy purchases outcome tokens in a market.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Buyer) {
		writeError(w, http.StatusBadRequest, "invalid buyer address")
		return
	}
	buyer := common.HexToAddress(req.Buyer)
	receiver := buyer
	if req.Receiver != "" {
		if !common.IsHexAddress(req.Receiver) {
			writeError(w, http.StatusBadRequest, "invalid receiver address")
			return
		}
		receiver = common.HexToAddress(req.Receiver)
	}

	receipt, err := h.trades.BuyPosition(r.Context(), buyer, receiver, id, req.Outcome, req.Stake, req.MinOut)
	if err != nil {
		h.logger.WarnContext(r.Context(), "buy failed",
			slog.String("question_id", id),
			slog.String("buyer", req.Buyer),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// GetQuote prices a hypothetical buy.
// GET /api/markets/{id}/quote?outcome=0&stake=100
func (h *TradeHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()

	outcome, err := parseIntParam(q.Get("outcome"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid outcome")
		return
	}
	stake, err := parseInt64Param(q.Get("stake"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stake")
		return
	}

	quote, err := h.trades.Quote(r.Context(), id, outcome, stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// transferRequest is the body for an outcome-token transfer.
type transferRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Outcome int    `json:"outcome"`
	Amount  int64  `json:"amount"`
}

// Transfer moves outcome tokens between two owners in a market.
// POST /api/markets/{id}/transfer
func (h *TradeHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.From) {
		writeError(w, http.StatusBadRequest, "invalid from address")
		return
	}
	if !common.IsHexAddress(req.To) {
		writeError(w, http.StatusBadRequest, "invalid to address")
		return
	}

	err := h.trades.TransferPosition(r.Context(), id, req.Outcome,
		common.HexToAddress(req.From), common.HexToAddress(req.To), req.Amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "transfer failed",
			slog.String("question_id", id),
			slog.String("from", req.From),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"question_id": id,
		"outcome":     req.Outcome,
		"from":        req.From,
		"to":          req.To,
		"amount":      req.Amount,
	})
}

// redeemRequest is the body for a single-market redemption.
type redeemRequest struct {
	Owner string `json:"owner"`
}

// Redeem settles the owner's position in a resolved market.
// POST /api/markets/{id}/redeem
func (h *TradeHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}

	payout, err := h.trades.RedeemPosition(r.Context(), common.HexToAddress(req.Owner), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"question_id": id,
		"owner":       req.Owner,
		"payout":      payout,
	})
}
