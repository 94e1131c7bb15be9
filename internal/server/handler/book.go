package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/quantnest/papervenue/internal/domain"
)

// BookEngine exposes the engine's read-only market views.
type BookEngine interface {
	BookSnapshot(symbol string, n int) domain.BookSnapshot
	LastPrice(symbol string) (float64, bool)
}

// BookHandler serves order book depth snapshots.
type BookHandler struct {
	engine BookEngine
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler.
func NewBookHandler(eng BookEngine, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		engine: eng,
		logger: logHandler(logger, "book"),
	}
}

// GetBook returns the top-N depth of one symbol's book plus the latest
// released price.
// GET /api/book/{symbol}?depth=10
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(pathParam(r, "symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	depth := 10
	if v := r.URL.Query().Get("depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			depth = n
		}
	}

	snap := h.engine.BookSnapshot(symbol, depth)
	last, _ := h.engine.LastPrice(symbol)
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     snap.Symbol,
		"bids":       snap.Bids,
		"asks":       snap.Asks,
		"last_price": last,
	})
}
