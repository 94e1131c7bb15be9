package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantnest/papervenue/internal/domain"
	"github.com/quantnest/papervenue/internal/engine"
)

// OrderEngine defines the methods the order handler requires from the
// matching engine.
type OrderEngine interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID, userID string) (domain.OrderResult, error)
	ModifyOrder(ctx context.Context, orderID, userID string, req engine.ModifyRequest) (domain.OrderResult, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	engine OrderEngine
	orders domain.OrderStore
	trades domain.TradeStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(eng OrderEngine, orders domain.OrderStore, trades domain.TradeStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		engine: eng,
		orders: orders,
		trades: trades,
		logger: logHandler(logger, "orders"),
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns a user's orders, most recent first.
// GET /api/orders?user_id=...&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), uid, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns one order by ID.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get order failed",
			slog.String("order_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOrderTrades returns the fills of one order.
// GET /api/orders/{id}/trades
func (h *OrderHandler) ListOrderTrades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	trades, err := h.trades.ListByOrder(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("order_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// PlaceOrder creates a new order from a JSON order request.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = userID(r)
	}

	result, err := h.engine.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeOrderError(w, r, result, err, "place order failed")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ModifyOrder updates price and/or quantity of a resting LIMIT order.
// PATCH /api/orders/{id}
func (h *OrderHandler) ModifyOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req engine.ModifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.engine.ModifyOrder(r.Context(), id, userID(r), req)
	if err != nil {
		h.writeOrderError(w, r, result, err, "modify order failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelOrder cancels an existing order by its ID.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	result, err := h.engine.CancelOrder(r.Context(), id, userID(r))
	if err != nil {
		h.writeOrderError(w, r, result, err, "cancel order failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeOrderError maps engine errors to HTTP responses. Rejections carry the
// engine's result body so callers see the reason and any partial fill.
func (h *OrderHandler) writeOrderError(w http.ResponseWriter, r *http.Request, result domain.OrderResult, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrOrderTerminal):
		writeJSON(w, http.StatusConflict, result)
	case errors.Is(err, domain.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrNoMarketPrice):
		writeJSON(w, http.StatusUnprocessableEntity, result)
	default:
		h.logger.ErrorContext(r.Context(), msg, slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, msg)
	}
}
