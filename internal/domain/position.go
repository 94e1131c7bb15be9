package domain

import "time"

// Position is the net holding of one user in one symbol. Qty is signed:
// positive = long, negative = short. A position whose qty returns to zero is
// deleted. Mutated only inside the matching engine's fill transaction.
type Position struct {
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Qty         int64     `json:"qty"`
	AvgPrice    float64   `json:"avg_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	SLPrice     float64   `json:"sl_price,omitempty"` // optional position-level stop, 0 = unset
	TPPrice     float64   `json:"tp_price,omitempty"` // optional position-level target, 0 = unset
	UpdatedAt   time.Time `json:"updated_at"`
}

// UnrealizedPnL derives the open P&L at the given mark price. It is a
// read-time value, never persisted authoritatively.
func (p Position) UnrealizedPnL(mark float64) float64 {
	if p.Qty == 0 || mark <= 0 {
		return 0
	}
	return (mark - p.AvgPrice) * float64(p.Qty)
}
