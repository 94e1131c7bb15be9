package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantnest/papervenue/internal/domain"
)

func placeReq(user, symbol string, side domain.OrderSide, qty int64, typ domain.OrderType, price float64) domain.OrderRequest {
	return domain.OrderRequest{
		UserID: user,
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Type:   typ,
		Price:  price,
	}
}

func TestLimitMatchAtRestingPrice(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	sell, err := te.eng.PlaceOrder(ctx, placeReq("seller", "INFY", domain.OrderSideSell, 10, domain.OrderTypeLimit, 100))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, sell.Status)

	// A print below the ask leaves it resting.
	require.NoError(t, te.tick(ctx, "INFY", 99))
	assert.Equal(t, domain.OrderStatusPending, te.storedOrder(sell.OrderID).Status)

	// An aggressive buy at a higher limit trades at the resting price.
	buy, err := te.eng.PlaceOrder(ctx, placeReq("buyer", "INFY", domain.OrderSideBuy, 6, domain.OrderTypeLimit, 110))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, buy.Status)
	assert.Equal(t, int64(6), buy.FilledQty)
	assert.Equal(t, 100.0, buy.AvgFillPrice)

	resting := te.storedOrder(sell.OrderID)
	assert.Equal(t, domain.OrderStatusPartial, resting.Status)
	assert.Equal(t, int64(6), resting.FilledQty)

	snap := te.eng.BookSnapshot("INFY", 0)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, int64(4), snap.Asks[0].Qty)

	// Both parties got a trade row, a position and a settled account.
	buyTrades, err := te.store.ListByOrder(ctx, buy.OrderID)
	require.NoError(t, err)
	require.Len(t, buyTrades, 1)
	assert.Equal(t, 100.0, buyTrades[0].Price)

	pos, err := memPositions{te.store}.Get(ctx, "buyer", "INFY")
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos.Qty)
	assert.Equal(t, 100.0, pos.AvgPrice)

	short, err := memPositions{te.store}.Get(ctx, "seller", "INFY")
	require.NoError(t, err)
	assert.Equal(t, int64(-6), short.Qty)

	buyerAcct, err := te.store.Get(ctx, "buyer")
	require.NoError(t, err)
	assert.InDelta(t, 99400.0, buyerAcct.Balance, 1e-9)

	sellerAcct, err := te.store.Get(ctx, "seller")
	require.NoError(t, err)
	assert.InDelta(t, 100600.0, sellerAcct.Balance, 1e-9)
}

func TestMarketRejectedWithoutAnyPrice(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	res, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideBuy, 4, domain.OrderTypeMarket, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoMarketPrice)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Zero(t, res.FilledQty)
}

func TestMarketPartialCancelsRemainderWithoutPrice(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	_, err := te.eng.PlaceOrder(ctx, placeReq("seller", "INFY", domain.OrderSideSell, 5, domain.OrderTypeLimit, 100))
	require.NoError(t, err)

	// Fills what the book offers; the rest has no price to execute against.
	res, err := te.eng.PlaceOrder(ctx, placeReq("buyer", "INFY", domain.OrderSideBuy, 8, domain.OrderTypeMarket, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoMarketPrice)
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)
	assert.Equal(t, int64(5), res.FilledQty)
	assert.Equal(t, 100.0, res.AvgFillPrice)
}

func TestMarketFillsAtLastReleasedPrice(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))

	res, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideBuy, 4, domain.OrderTypeMarket, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, int64(4), res.FilledQty)
	assert.Equal(t, 100.0, res.AvgFillPrice)
}

func TestStopMarketTriggersOnTick(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))

	stop, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 3, Type: domain.OrderTypeStopMarket, TriggerPrice: 105,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stop.Status)

	// Below the trigger: nothing happens.
	require.NoError(t, te.tick(ctx, "INFY", 104))
	assert.Equal(t, domain.OrderStatusPending, te.storedOrder(stop.OrderID).Status)

	// At the trigger the stop converts to MARKET and fills at the tape.
	require.NoError(t, te.tick(ctx, "INFY", 105))
	fired := te.storedOrder(stop.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, fired.Status)
	assert.Equal(t, domain.OrderTypeMarket, fired.Type, "trigger conversion is persisted")
	assert.Equal(t, 105.0, fired.AvgFillPrice)
}

func TestSellStopTriggersOnFall(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))

	stop, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideSell,
		Qty: 3, Type: domain.OrderTypeStopMarket, TriggerPrice: 95,
	})
	require.NoError(t, err)

	require.NoError(t, te.tick(ctx, "INFY", 96))
	assert.Equal(t, domain.OrderStatusPending, te.storedOrder(stop.OrderID).Status)

	require.NoError(t, te.tick(ctx, "INFY", 94))
	assert.Equal(t, domain.OrderStatusFilled, te.storedOrder(stop.OrderID).Status)
}

func TestRestingLimitFillsAgainstReleasedPrint(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))

	ask, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideSell, 5, domain.OrderTypeLimit, 110))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, ask.Status)

	// A print through the limit fills the order at its own price.
	require.NoError(t, te.tick(ctx, "INFY", 111))
	filled := te.storedOrder(ask.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, filled.Status)
	assert.Equal(t, 110.0, filled.AvgFillPrice)

	snap := te.eng.BookSnapshot("INFY", 0)
	assert.Empty(t, snap.Asks)
}

func TestBracketTakeProfitCancelsStop(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))

	entry, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 5, Type: domain.OrderTypeMarket,
		TakeProfit: 110, StopLoss: 90,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, entry.Status)

	orders, err := te.store.ListByUser(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, orders, 3)

	var tp, sl domain.Order
	for _, o := range orders {
		switch o.Tag {
		case domain.OrderTagTakeProfit:
			tp = o
		case domain.OrderTagStopLoss:
			sl = o
		}
	}
	require.NotEmpty(t, tp.ID)
	require.NotEmpty(t, sl.ID)
	assert.Equal(t, domain.OrderSideSell, tp.Side)
	assert.Equal(t, tp.OCOGroup, sl.OCOGroup)

	// The target rests in the book once the entry fills.
	snap := te.eng.BookSnapshot("INFY", 0)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 110.0, snap.Asks[0].Price)

	// A print through the target fills it and auto-cancels the stop.
	require.NoError(t, te.tick(ctx, "INFY", 111))
	assert.Equal(t, domain.OrderStatusFilled, te.storedOrder(tp.ID).Status)
	assert.Equal(t, domain.OrderStatusCancelled, te.storedOrder(sl.ID).Status)

	// Round trip: bought 5@100, sold 5@110.
	_, err = memPositions{te.store}.Get(ctx, "u1", "INFY")
	assert.ErrorIs(t, err, domain.ErrNotFound, "flat position is deleted")

	acct, err := te.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 100050.0, acct.Balance, 1e-9)
}

func TestBracketStopLossCancelsTarget(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))

	_, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 5, Type: domain.OrderTypeMarket,
		TakeProfit: 110, StopLoss: 90,
	})
	require.NoError(t, err)

	orders, err := te.store.ListByUser(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	var tp, sl domain.Order
	for _, o := range orders {
		switch o.Tag {
		case domain.OrderTagTakeProfit:
			tp = o
		case domain.OrderTagStopLoss:
			sl = o
		}
	}

	require.NoError(t, te.tick(ctx, "INFY", 89))
	stopped := te.storedOrder(sl.ID)
	assert.Equal(t, domain.OrderStatusFilled, stopped.Status)
	assert.Equal(t, 89.0, stopped.AvgFillPrice, "stop exits at the tape, slippage included")
	assert.Equal(t, domain.OrderStatusCancelled, te.storedOrder(tp.ID).Status)

	acct, err := te.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 99945.0, acct.Balance, 1e-9)
}

func TestCoverStopTag(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))

	_, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 2, Type: domain.OrderTypeMarket,
		StopLoss: 95,
	})
	require.NoError(t, err)

	orders, err := te.store.ListByUser(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	var child domain.Order
	for _, o := range orders {
		if o.ParentID != "" {
			child = o
		}
	}
	assert.Equal(t, domain.OrderTagCoverStop, child.Tag, "single stop child without a target is a cover")
	assert.Equal(t, domain.OrderTypeStopMarket, child.Type)
}

func TestModifyDormantChildKeepsItOffBook(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	entry, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 5, Type: domain.OrderTypeLimit, Price: 50,
		TakeProfit: 110, StopLoss: 40,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, entry.Status)

	orders, err := te.store.ListByUser(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	var tp domain.Order
	for _, o := range orders {
		if o.Tag == domain.OrderTagTakeProfit {
			tp = o
		}
	}
	require.NotEmpty(t, tp.ID)

	// The new price sticks, but the child must not enter the book while its
	// entry is unfilled.
	modified, err := te.eng.ModifyOrder(ctx, tp.ID, "u1", ModifyRequest{Price: 105})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, modified.Status)
	assert.Equal(t, 105.0, te.storedOrder(tp.ID).Price)

	snap := te.eng.BookSnapshot("INFY", 0)
	assert.Empty(t, snap.Asks)

	// A print through the modified target fills nothing: the entry never
	// filled, so the child is still dormant.
	require.NoError(t, te.tick(ctx, "INFY", 106))
	assert.Equal(t, domain.OrderStatusPending, te.storedOrder(entry.OrderID).Status)
	assert.Zero(t, te.storedOrder(entry.OrderID).FilledQty)
	assert.Equal(t, domain.OrderStatusPending, te.storedOrder(tp.ID).Status)
	assert.Zero(t, te.storedOrder(tp.ID).FilledQty)
}

func TestCancelEntryCancelsChildren(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	entry, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 5, Type: domain.OrderTypeLimit, Price: 50,
		TakeProfit: 110, StopLoss: 40,
	})
	require.NoError(t, err)

	orders, err := te.store.ListByUser(ctx, "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, orders, 3)

	_, err = te.eng.CancelOrder(ctx, entry.OrderID, "u1")
	require.NoError(t, err)

	for _, o := range orders {
		assert.Equal(t, domain.OrderStatusCancelled, te.storedOrder(o.ID).Status)
	}

	// A print through the target changes nothing for the dead children.
	require.NoError(t, te.tick(ctx, "INFY", 111))
	for _, o := range orders {
		assert.Zero(t, te.storedOrder(o.ID).FilledQty)
	}
	assert.Empty(t, te.store.trades)
}

func TestRejectedEntryCancelsChildren(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	// No released price at all: the MARKET entry is rejected outright.
	res, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 5, Type: domain.OrderTypeMarket,
		TakeProfit: 110, StopLoss: 90,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoMarketPrice)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)

	orders, lerr := te.store.ListByUser(ctx, "u1", domain.ListOpts{})
	require.NoError(t, lerr)
	require.Len(t, orders, 3)
	for _, o := range orders {
		if o.ParentID == "" {
			continue
		}
		assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	}
}

func TestCancelOrder(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	res, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideBuy, 5, domain.OrderTypeLimit, 95))
	require.NoError(t, err)

	// A stranger cannot cancel someone else's order.
	_, err = te.eng.CancelOrder(ctx, res.OrderID, "intruder")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cancelled, err := te.eng.CancelOrder(ctx, res.OrderID, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	snap := te.eng.BookSnapshot("INFY", 0)
	assert.Empty(t, snap.Bids)

	// Cancelling again reports the terminal state.
	_, err = te.eng.CancelOrder(ctx, res.OrderID, "u1")
	assert.ErrorIs(t, err, domain.ErrOrderTerminal)
}

func TestModifyOrder(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	res, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideSell, 10, domain.OrderTypeLimit, 100))
	require.NoError(t, err)

	modified, err := te.eng.ModifyOrder(ctx, res.OrderID, "u1", ModifyRequest{Qty: 12, Price: 98})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, modified.Status)

	snap := te.eng.BookSnapshot("INFY", 0)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 98.0, snap.Asks[0].Price)
	assert.Equal(t, int64(12), snap.Asks[0].Qty)

	stored := te.storedOrder(res.OrderID)
	assert.Equal(t, int64(12), stored.Qty)
	assert.Equal(t, 98.0, stored.Price)
}

func TestModifyRejectsQtyBelowFilled(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	sell, err := te.eng.PlaceOrder(ctx, placeReq("seller", "INFY", domain.OrderSideSell, 10, domain.OrderTypeLimit, 100))
	require.NoError(t, err)
	_, err = te.eng.PlaceOrder(ctx, placeReq("buyer", "INFY", domain.OrderSideBuy, 6, domain.OrderTypeLimit, 100))
	require.NoError(t, err)

	_, err = te.eng.ModifyOrder(ctx, sell.OrderID, "seller", ModifyRequest{Qty: 4})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestModifyRejectsNonLimit(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	stop, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 3, Type: domain.OrderTypeStopMarket, TriggerPrice: 105,
	})
	require.NoError(t, err)

	_, err = te.eng.ModifyOrder(ctx, stop.OrderID, "u1", ModifyRequest{Price: 106})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestPlacementNotionalChecks(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))

	res, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideBuy, 2000, domain.OrderTypeLimit, 100))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Equal(t, domain.OrderStatusRejected, te.storedOrder(res.OrderID).Status, "rejection is persisted")

	// A short needs cash backing too, so the rejection is about funds.
	res, err = te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideSell, 2000, domain.OrderTypeLimit, 100))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
}

func TestValidationRejectsBadRequests(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	cases := []domain.OrderRequest{
		{Symbol: "INFY", Side: domain.OrderSideBuy, Qty: 1, Type: domain.OrderTypeMarket},            // no user
		{UserID: "u1", Side: domain.OrderSideBuy, Qty: 1, Type: domain.OrderTypeMarket},              // no symbol
		{UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy, Qty: 0, Type: domain.OrderTypeMarket},
		{UserID: "u1", Symbol: "INFY", Side: "HOLD", Qty: 1, Type: domain.OrderTypeMarket},
		{UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy, Qty: 1, Type: domain.OrderTypeLimit},     // no price
		{UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy, Qty: 1, Type: domain.OrderTypeStopMarket}, // no trigger
		{UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy, Qty: 1, Type: "ICEBERG"},
	}
	for _, req := range cases {
		_, err := te.eng.PlaceOrder(ctx, req)
		assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	}
}

func TestRehydrateRestoresBookAndTriggers(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))
	ask, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideSell, 5, domain.OrderTypeLimit, 105))
	require.NoError(t, err)
	stop, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u2", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 5, Type: domain.OrderTypeStopMarket, TriggerPrice: 106,
	})
	require.NoError(t, err)
	entry, err := te.eng.PlaceOrder(ctx, domain.OrderRequest{
		UserID: "u3", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 2, Type: domain.OrderTypeLimit, Price: 90,
		TakeProfit: 120,
	})
	require.NoError(t, err)

	// A second engine over the same storage, as after a restart.
	logger := te.eng.logger
	fresh := New(Config{}, te.store, te.store, te.store, te.store, memPositions{te.store}, te.ltp, nopBus{}, nil, logger)
	require.NoError(t, fresh.Rehydrate(ctx))

	snap := fresh.BookSnapshot("INFY", 0)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 105.0, snap.Asks[0].Price)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, 90.0, snap.Bids[0].Price, "child with an open parent stays out of the book")

	// The re-watched stop fires and sweeps the restored ask.
	require.NoError(t, fresh.HandleTick(ctx, domain.Tick{
		Symbol: "INFY", Timestamp: time.Now().UTC(), Last: 106, Volume: 1,
	}))
	assert.Equal(t, domain.OrderStatusFilled, te.storedOrder(stop.OrderID).Status)
	assert.Equal(t, 105.0, te.storedOrder(stop.OrderID).AvgFillPrice)
	assert.Equal(t, domain.OrderStatusFilled, te.storedOrder(ask.OrderID).Status)
	assert.Equal(t, domain.OrderStatusPending, te.storedOrder(entry.OrderID).Status)
}

func TestRehydrateCancelsChildrenOfDeadEntry(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	// Storage state as left by a crash between an entry's cancellation and
	// its children's: the entry is terminal, the child still pending.
	now := time.Now().UTC()
	parent := domain.Order{
		ID: "entry-1", UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 5, Type: domain.OrderTypeLimit, Price: 50,
		Status: domain.OrderStatusCancelled, Tag: domain.OrderTagEntry,
		CreatedAt: now, UpdatedAt: now,
	}
	child := domain.Order{
		ID: "tp-1", UserID: "u1", Symbol: "INFY", Side: domain.OrderSideSell,
		Qty: 5, Type: domain.OrderTypeLimit, Price: 110,
		Status: domain.OrderStatusPending, ParentID: parent.ID,
		Tag: domain.OrderTagTakeProfit, OCOGroup: "g1",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, te.store.Create(ctx, parent))
	require.NoError(t, te.store.Create(ctx, child))

	require.NoError(t, te.eng.Rehydrate(ctx))

	assert.Equal(t, domain.OrderStatusCancelled, te.storedOrder(child.ID).Status)
	snap := te.eng.BookSnapshot("INFY", 0)
	assert.Empty(t, snap.Asks)

	// A print through the target changes nothing.
	require.NoError(t, te.tick(ctx, "INFY", 111))
	assert.Zero(t, te.storedOrder(child.ID).FilledQty)
	trades, err := te.store.ListByOrder(ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRehydrateActivatesChildOfFilledEntry(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	now := time.Now().UTC()
	parent := domain.Order{
		ID: "entry-2", UserID: "u1", Symbol: "INFY", Side: domain.OrderSideBuy,
		Qty: 5, Type: domain.OrderTypeLimit, Price: 50,
		Status: domain.OrderStatusFilled, FilledQty: 5, AvgFillPrice: 50,
		Tag: domain.OrderTagEntry, CreatedAt: now, UpdatedAt: now,
	}
	child := domain.Order{
		ID: "tp-2", UserID: "u1", Symbol: "INFY", Side: domain.OrderSideSell,
		Qty: 5, Type: domain.OrderTypeLimit, Price: 120,
		Status: domain.OrderStatusPending, ParentID: parent.ID,
		Tag: domain.OrderTagTakeProfit, OCOGroup: "g2",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, te.store.Create(ctx, parent))
	require.NoError(t, te.store.Create(ctx, child))

	require.NoError(t, te.eng.Rehydrate(ctx))

	snap := te.eng.BookSnapshot("INFY", 0)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 120.0, snap.Asks[0].Price, "child of a filled entry goes back into the book")
}

func TestFillRetriesTransientFailure(t *testing.T) {
	te := newTestEngine(Config{FillRetries: 3, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))
	te.store.failFills = 1

	res, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideBuy, 1, domain.OrderTypeMarket, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
}

func TestFillAbortsAfterExhaustedRetries(t *testing.T) {
	te := newTestEngine(Config{FillRetries: 2, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))
	te.store.failFills = 10

	_, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideBuy, 1, domain.OrderTypeMarket, 0))
	require.Error(t, err)

	trades, terr := te.store.ListByOrder(ctx, "any")
	require.NoError(t, terr)
	assert.Empty(t, trades)
	assert.Empty(t, te.store.trades, "nothing is committed when the transaction keeps failing")
}

func TestSquareOffAllClosesPositions(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	require.NoError(t, te.tick(ctx, "INFY", 100))
	_, err := te.eng.PlaceOrder(ctx, placeReq("u1", "INFY", domain.OrderSideBuy, 5, domain.OrderTypeMarket, 0))
	require.NoError(t, err)

	require.NoError(t, te.tick(ctx, "INFY", 104))
	closed, failed := te.eng.SquareOffAll(ctx, "eod")
	assert.Equal(t, 1, closed)
	assert.Zero(t, failed)

	_, err = memPositions{te.store}.Get(ctx, "u1", "INFY")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	acct, err := te.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 100020.0, acct.Balance, 1e-9, "bought 5@100, squared off 5@104")
}
