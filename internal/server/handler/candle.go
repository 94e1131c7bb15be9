package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/quantnest/papervenue/internal/candle"
	"github.com/quantnest/papervenue/internal/domain"
)

// CandleHandler serves OHLCV history. Only the 1-minute base series is read
// from storage; higher timeframes are resampled per request.
type CandleHandler struct {
	candles domain.CandleStore
	logger  *slog.Logger
}

// NewCandleHandler creates a CandleHandler.
func NewCandleHandler(candles domain.CandleStore, logger *slog.Logger) *CandleHandler {
	return &CandleHandler{
		candles: candles,
		logger:  logHandler(logger, "candles"),
	}
}

// ListCandles returns candles for one instrument and timeframe.
// GET /api/candles?symbol=RELIANCE&tf=5m&since=...&until=...&limit=500
func (h *CandleHandler) ListCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	tf := q.Get("tf")
	if tf == "" {
		tf = string(domain.Resolution1m)
	}
	res, ok := domain.ParseResolution(tf)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown timeframe "+tf)
		return
	}

	opts := parseListOpts(r)
	base, err := h.candles.List(r.Context(), symbol, domain.Resolution1m, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list candles failed",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list candles")
		return
	}

	out := candle.Resample(base, res)
	if out == nil {
		out = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     symbol,
		"resolution": res,
		"candles":    out,
	})
}
