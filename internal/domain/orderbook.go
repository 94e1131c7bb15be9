package domain

// BookLevel is one resting order's visible depth contribution.
type BookLevel struct {
	Price   float64 `json:"price"`
	Qty     int64   `json:"qty"`
	OrderID string  `json:"order_id"`
}

// BookSnapshot is a top-N depth view of one symbol's book, best prices first.
type BookSnapshot struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
}
