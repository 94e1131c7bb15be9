package engine

import (
	"time"

	"github.com/quantnest/papervenue/internal/domain"
)

// applyFillToLedger folds one side of a fill into the user's position and
// account. Closing quantity realizes P&L against the average cost; any
// remainder opens or extends a position at the weighted-average price. Cash
// moves by the full fill notional regardless of open/close split.
func applyFillToLedger(
	pos domain.Position,
	acct domain.Account,
	side domain.OrderSide,
	qty int64,
	price float64,
	now time.Time,
) (domain.Position, domain.Account) {
	remaining := qty

	if side == domain.OrderSideBuy {
		acct.Balance -= price * float64(qty)

		// Close any short first.
		if pos.Qty < 0 {
			closed := min64(-pos.Qty, remaining)
			pos.RealizedPnL += (pos.AvgPrice - price) * float64(closed)
			pos.Qty += closed
			remaining -= closed
			if pos.Qty == 0 {
				pos.AvgPrice = 0
			}
		}
		if remaining > 0 {
			newQty := pos.Qty + remaining
			pos.AvgPrice = (pos.AvgPrice*float64(pos.Qty) + price*float64(remaining)) / float64(newQty)
			pos.Qty = newQty
		}
	} else {
		acct.Balance += price * float64(qty)

		// Close any long first.
		if pos.Qty > 0 {
			closed := min64(pos.Qty, remaining)
			pos.RealizedPnL += (price - pos.AvgPrice) * float64(closed)
			pos.Qty -= closed
			remaining -= closed
			if pos.Qty == 0 {
				pos.AvgPrice = 0
			}
		}
		if remaining > 0 {
			absOld := -pos.Qty
			newAbs := absOld + remaining
			pos.AvgPrice = (pos.AvgPrice*float64(absOld) + price*float64(remaining)) / float64(newAbs)
			pos.Qty = -newAbs
		}
	}

	pos.UpdatedAt = now
	acct.UpdatedAt = now
	// Equity here reflects cash only; live equity with unrealized P&L is
	// derived at read time from the latest released prices.
	acct.Equity = acct.Balance
	return pos, acct
}

// increasingQty returns how much of an order would extend the user's
// exposure (open/extend a long for BUY, a short for SELL) rather than close
// the opposite side. Only this part needs cash backing at placement time.
func increasingQty(pos domain.Position, side domain.OrderSide, qty int64) int64 {
	if side == domain.OrderSideBuy {
		if pos.Qty < 0 {
			return max64(0, qty+pos.Qty)
		}
		return qty
	}
	if pos.Qty > 0 {
		return max64(0, qty-pos.Qty)
	}
	return qty
}

// fillAvgPrice folds one fill into an order's running average fill price.
func fillAvgPrice(prevAvg float64, prevFilled, qty int64, price float64) float64 {
	total := prevFilled + qty
	if total == 0 {
		return 0
	}
	return (prevAvg*float64(prevFilled) + price*float64(qty)) / float64(total)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
