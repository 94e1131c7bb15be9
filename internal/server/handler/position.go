package handler

import (
	"log/slog"
	"net/http"

	"github.com/quantnest/papervenue/internal/domain"
)

// PositionHandler serves open position snapshots enriched with unrealized
// P&L at the latest released price.
type PositionHandler struct {
	positions domain.PositionStore
	ltp       domain.LTPCache
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions domain.PositionStore, ltp domain.LTPCache, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		ltp:       ltp,
		logger:    logHandler(logger, "positions"),
	}
}

// positionView is a position plus derived mark-to-market fields.
type positionView struct {
	domain.Position
	MarkPrice     float64 `json:"mark_price,omitempty"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// ListPositions returns a user's open positions.
// GET /api/positions?user_id=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	positions, err := h.positions.ListByUser(r.Context(), uid)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		v := positionView{Position: pos}
		if mark, _, err := h.ltp.Get(r.Context(), pos.Symbol); err == nil && mark > 0 {
			v.MarkPrice = mark
			v.UnrealizedPnL = pos.UnrealizedPnL(mark)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}
