package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantnest/papervenue/internal/domain"
)

func TestLedgerLongRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	pos := domain.Position{UserID: "u1", Symbol: "INFY"}
	acct := domain.NewAccount("u1")

	pos, acct = applyFillToLedger(pos, acct, domain.OrderSideBuy, 10, 100, now)
	assert.Equal(t, int64(10), pos.Qty)
	assert.Equal(t, 100.0, pos.AvgPrice)
	assert.InDelta(t, 99000.0, acct.Balance, 1e-9)

	pos, acct = applyFillToLedger(pos, acct, domain.OrderSideSell, 10, 110, now)
	assert.Zero(t, pos.Qty)
	assert.Zero(t, pos.AvgPrice, "flat position resets its cost basis")
	assert.InDelta(t, 100.0, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 100100.0, acct.Balance, 1e-9)
	assert.Equal(t, acct.Balance, acct.Equity)
}

func TestLedgerWeightedAverageOnExtend(t *testing.T) {
	now := time.Now().UTC()
	pos := domain.Position{UserID: "u1", Symbol: "INFY"}
	acct := domain.NewAccount("u1")

	pos, acct = applyFillToLedger(pos, acct, domain.OrderSideBuy, 10, 100, now)
	pos, acct = applyFillToLedger(pos, acct, domain.OrderSideBuy, 5, 106, now)
	assert.Equal(t, int64(15), pos.Qty)
	assert.InDelta(t, 102.0, pos.AvgPrice, 1e-9)
	assert.Zero(t, pos.RealizedPnL)
}

func TestLedgerShortCloseRealizesPnL(t *testing.T) {
	now := time.Now().UTC()
	pos := domain.Position{UserID: "u1", Symbol: "INFY"}
	acct := domain.NewAccount("u1")

	pos, acct = applyFillToLedger(pos, acct, domain.OrderSideSell, 10, 100, now)
	assert.Equal(t, int64(-10), pos.Qty)
	assert.Equal(t, 100.0, pos.AvgPrice)
	assert.InDelta(t, 101000.0, acct.Balance, 1e-9)

	// Covering below the short price is a gain.
	pos, acct = applyFillToLedger(pos, acct, domain.OrderSideBuy, 10, 95, now)
	assert.Zero(t, pos.Qty)
	assert.InDelta(t, 50.0, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 100050.0, acct.Balance, 1e-9)
}

func TestLedgerFlipThroughZero(t *testing.T) {
	now := time.Now().UTC()
	pos := domain.Position{UserID: "u1", Symbol: "INFY"}
	acct := domain.NewAccount("u1")

	pos, acct = applyFillToLedger(pos, acct, domain.OrderSideBuy, 10, 100, now)
	// Selling 15 closes the long and opens a 5-lot short at the fill price.
	pos, acct = applyFillToLedger(pos, acct, domain.OrderSideSell, 15, 104, now)
	assert.Equal(t, int64(-5), pos.Qty)
	assert.InDelta(t, 104.0, pos.AvgPrice, 1e-9)
	assert.InDelta(t, 40.0, pos.RealizedPnL, 1e-9)
}

func TestIncreasingQty(t *testing.T) {
	flat := domain.Position{}
	long := domain.Position{Qty: 10}
	short := domain.Position{Qty: -10}

	assert.Equal(t, int64(5), increasingQty(flat, domain.OrderSideBuy, 5))
	assert.Equal(t, int64(5), increasingQty(flat, domain.OrderSideSell, 5))

	// Closing quantity needs no backing; only the flip-through part does.
	assert.Equal(t, int64(0), increasingQty(long, domain.OrderSideSell, 8))
	assert.Equal(t, int64(5), increasingQty(long, domain.OrderSideSell, 15))
	assert.Equal(t, int64(0), increasingQty(short, domain.OrderSideBuy, 10))
	assert.Equal(t, int64(3), increasingQty(short, domain.OrderSideBuy, 13))
	assert.Equal(t, int64(15), increasingQty(long, domain.OrderSideBuy, 15))
}

func TestFillAvgPrice(t *testing.T) {
	assert.Equal(t, 100.0, fillAvgPrice(0, 0, 10, 100))
	assert.InDelta(t, 102.0, fillAvgPrice(100, 10, 5, 106), 1e-9)
	assert.Zero(t, fillAvgPrice(0, 0, 0, 0))
}

func TestUnrealizedPnL(t *testing.T) {
	long := domain.Position{Qty: 10, AvgPrice: 100}
	short := domain.Position{Qty: -10, AvgPrice: 100}

	assert.InDelta(t, 50.0, long.UnrealizedPnL(105), 1e-9)
	assert.InDelta(t, -50.0, short.UnrealizedPnL(105), 1e-9)
	assert.Zero(t, long.UnrealizedPnL(0), "no mark price, no open P&L")
	assert.Zero(t, domain.Position{}.UnrealizedPnL(105))
}
