package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/updownlabs/updown/internal/domain"
)

// UserService defines what the user handler needs from the engine.
type UserService interface {
	Stats(ctx context.Context, owner common.Address) domain.UserStats
	Position(ctx context.Context, questionID string, owner common.Address) (domain.Position, error)
	RedeemPositions(ctx context.Context, owner common.Address, maxCount int) ([]string, int64, error)
}

// UserHandler serves per-user stats, positions, and batch redemption.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler with the given service and logger.
func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logger,
	}
}

// GetStats returns the aggregate stats for one user.
// GET /api/users/{address}
func (h *UserHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.users.Stats(r.Context(), addr))
}

// ListPositions returns the user's open positions with live balances.
// GET /api/users/{address}/positions
func (h *UserHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	stats := h.users.Stats(r.Context(), addr)
	positions := make([]domain.Position, 0, len(stats.Open))
	for _, id := range stats.Open {
		pos, err := h.users.Position(r.Context(), id, addr)
		if err != nil {
			// The stats list and the position map move together, but a
			// stale id is not worth failing the whole listing over.
			h.logger.WarnContext(r.Context(), "position missing for open market",
				slog.String("question_id", id),
				slog.String("owner", addr.Hex()),
			)
			continue
		}
		positions = append(positions, pos)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr.Hex(),
		"positions": positions,
		"count":     len(positions),
	})
}

// batchRedeemRequest is the body for a batch redemption.
type batchRedeemRequest struct {
	MaxCount int `json:"max_count"`
}

// RedeemAll settles up to max_count of the user's positions in resolved
// markets, skipping markets that have not resolved yet.
// POST /api/users/{address}/redeem
func (h *UserHandler) RedeemAll(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	var req batchRedeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	settled, total, err := h.users.RedeemPositions(r.Context(), addr, req.MaxCount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "batch redeem failed",
			slog.String("owner", addr.Hex()),
			slog.Int("settled", len(settled)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":      addr.Hex(),
		"settled":      settled,
		"total_payout": total,
	})
}

// pathAddress parses the {address} path segment, writing a 400 on failure.
func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
