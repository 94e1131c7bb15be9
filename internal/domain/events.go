package domain

import "encoding/json"

// Broadcast channel names. The ws hub subscribes to these and fans messages
// out to connected clients.
const (
	ChannelTicks     = "ticks"
	ChannelOrders    = "orders"
	ChannelPositions = "positions"
	ChannelAccounts  = "accounts"
)

// Event types carried in the envelope.
const (
	EventTick           = "tick"
	EventOrderUpdate    = "order_update"
	EventPositionUpdate = "position_update"
	EventAccountUpdate  = "account_update"
)

// Event is the tagged envelope pushed to subscribers. Payloads are full
// snapshots keyed by entity id so at-least-once delivery stays idempotent.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Encode marshals the event envelope. A marshal failure returns nil; callers
// treat a nil payload as "skip publish".
func (e Event) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}
