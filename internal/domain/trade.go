package domain

import "time"

// Trade is one fill applied to an order. Trades are immutable and
// append-only; the sum of trade quantities for an order equals its FilledQty.
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Qty       int64     `json:"qty"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
