package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantnest/papervenue/internal/domain"
	"github.com/quantnest/papervenue/internal/engine"
)

type fakeEngine struct {
	placeResult  domain.OrderResult
	placeErr     error
	placedReq    domain.OrderRequest
	cancelResult domain.OrderResult
	cancelErr    error
	cancelledID  string
	cancelUser   string
}

func (f *fakeEngine) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.placedReq = req
	return f.placeResult, f.placeErr
}

func (f *fakeEngine) CancelOrder(_ context.Context, orderID, userID string) (domain.OrderResult, error) {
	f.cancelledID = orderID
	f.cancelUser = userID
	return f.cancelResult, f.cancelErr
}

func (f *fakeEngine) ModifyOrder(_ context.Context, _, _ string, _ engine.ModifyRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}

type fakeOrderStore struct {
	orders map[string]domain.Order
}

func (f *fakeOrderStore) Create(context.Context, domain.Order) error { return nil }
func (f *fakeOrderStore) Update(context.Context, domain.Order) error { return nil }

func (f *fakeOrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) ListOpen(context.Context) ([]domain.Order, error) { return nil, nil }

func (f *fakeOrderStore) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeTradeStore struct {
	trades []domain.Trade
}

func (f *fakeTradeStore) ListByOrder(_ context.Context, orderID string) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, tr := range f.trades {
		if tr.OrderID == orderID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) ListBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTradeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func newOrderHandler(eng *fakeEngine, orders *fakeOrderStore, trades *fakeTradeStore) *OrderHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if orders == nil {
		orders = &fakeOrderStore{orders: map[string]domain.Order{}}
	}
	if trades == nil {
		trades = &fakeTradeStore{}
	}
	return NewOrderHandler(eng, orders, trades, logger)
}

func TestPlaceOrderCreated(t *testing.T) {
	eng := &fakeEngine{placeResult: domain.OrderResult{
		OrderID: "o-1",
		Status:  domain.OrderStatusFilled,
	}}
	h := newOrderHandler(eng, nil, nil)

	body := `{"user_id":"u1","symbol":"INFY","side":"BUY","qty":5,"order_type":"MARKET"}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.PlaceOrder(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order_id":"o-1"`)
	assert.Equal(t, "u1", eng.placedReq.UserID)
	assert.Equal(t, int64(5), eng.placedReq.Qty)
}

func TestPlaceOrderUserFromHeader(t *testing.T) {
	eng := &fakeEngine{}
	h := newOrderHandler(eng, nil, nil)

	body := `{"symbol":"INFY","side":"BUY","qty":1,"order_type":"MARKET"}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	req.Header.Set("X-User-ID", "header-user")
	rec := httptest.NewRecorder()
	h.PlaceOrder(rec, req)

	assert.Equal(t, "header-user", eng.placedReq.UserID)
}

func TestPlaceOrderBadBody(t *testing.T) {
	h := newOrderHandler(&fakeEngine{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"qty":`))
	rec := httptest.NewRecorder()
	h.PlaceOrder(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid", domain.ErrInvalidOrder, http.StatusBadRequest},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"insufficient funds", domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"no market price", domain.ErrNoMarketPrice, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{
				placeResult: domain.OrderResult{Status: domain.OrderStatusRejected},
				placeErr:    tc.err,
			}
			h := newOrderHandler(eng, nil, nil)

			body := `{"user_id":"u1","symbol":"INFY","side":"BUY","qty":1,"order_type":"MARKET"}`
			req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
			rec := httptest.NewRecorder()
			h.PlaceOrder(rec, req)

			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestListOrdersRequiresUser(t *testing.T) {
	h := newOrderHandler(&fakeEngine{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	h.ListOrders(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrders(t *testing.T) {
	store := &fakeOrderStore{orders: map[string]domain.Order{
		"o-1": {ID: "o-1", UserID: "u1", Symbol: "INFY"},
		"o-2": {ID: "o-2", UserID: "someone-else", Symbol: "INFY"},
	}}
	h := newOrderHandler(&fakeEngine{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/orders?user_id=u1", nil)
	rec := httptest.NewRecorder()
	h.ListOrders(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"o-1"`)
	assert.NotContains(t, rec.Body.String(), `"o-2"`)
}

func TestGetOrderNotFound(t *testing.T) {
	h := newOrderHandler(&fakeEngine{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/nope", nil)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.GetOrder(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrderPassesUser(t *testing.T) {
	eng := &fakeEngine{cancelResult: domain.OrderResult{
		OrderID: "o-1",
		Status:  domain.OrderStatusCancelled,
	}}
	h := newOrderHandler(eng, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/orders/o-1", nil)
	req.SetPathValue("id", "o-1")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	h.CancelOrder(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "o-1", eng.cancelledID)
	assert.Equal(t, "u1", eng.cancelUser)
}

func TestCancelTerminalOrderConflicts(t *testing.T) {
	eng := &fakeEngine{
		cancelResult: domain.OrderResult{OrderID: "o-1", Status: domain.OrderStatusFilled},
		cancelErr:    domain.ErrOrderTerminal,
	}
	h := newOrderHandler(eng, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/orders/o-1", nil)
	req.SetPathValue("id", "o-1")
	rec := httptest.NewRecorder()
	h.CancelOrder(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"FILLED"`)
}

func TestListOrderTrades(t *testing.T) {
	trades := &fakeTradeStore{trades: []domain.Trade{
		{ID: "t-1", OrderID: "o-1", Qty: 5, Price: 100},
		{ID: "t-2", OrderID: "o-other", Qty: 1, Price: 99},
	}}
	h := newOrderHandler(&fakeEngine{}, nil, trades)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/o-1/trades", nil)
	req.SetPathValue("id", "o-1")
	rec := httptest.NewRecorder()
	h.ListOrderTrades(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"t-1"`)
	assert.NotContains(t, rec.Body.String(), `"t-2"`)
}
