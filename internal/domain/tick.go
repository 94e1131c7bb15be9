package domain

import "time"

// Tick is one normalized market data point. Ticks are immutable once
// ingested; the delay gate controls when downstream consumers see them.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"ts"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Volume    int64     `json:"volume"`
}

// Valid reports whether the tick carries the minimum usable data: a symbol,
// a real timestamp and a positive last price.
func (t Tick) Valid() bool {
	return t.Symbol != "" && !t.Timestamp.IsZero() && t.Last > 0
}
