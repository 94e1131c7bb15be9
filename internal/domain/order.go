package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution policy of an order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStop       OrderType = "STOP"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// HasTrigger reports whether the order type waits off-book for a trigger
// price before becoming marketable.
func (t OrderType) HasTrigger() bool {
	switch t {
	case OrderTypeStop, OrderTypeStopLimit, OrderTypeStopMarket:
		return true
	default:
		return false
	}
}

// OrderStatus tracks the order lifecycle. Transitions are monotonic:
// PENDING → PARTIAL → FILLED, or → CANCELLED/REJECTED. Terminal states are
// never left.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderTag marks an order's role in a bracket/cover group.
type OrderTag string

const (
	OrderTagEntry        OrderTag = "ENTRY"
	OrderTagTakeProfit   OrderTag = "TAKE_PROFIT"
	OrderTagStopLoss     OrderTag = "STOP_LOSS"
	OrderTagCoverStop    OrderTag = "COVER_STOP"
	OrderTagBracketChild OrderTag = "BRACKET_CHILD"
)

// Order is one paper order. Orders are mutated exclusively by the matching
// engine under the per-symbol lock; everything else reads snapshots.
type Order struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Symbol       string      `json:"symbol"`
	Side         OrderSide   `json:"side"`
	Qty          int64       `json:"qty"`
	Type         OrderType   `json:"order_type"`
	Price        float64     `json:"price,omitempty"`         // limit price; 0 when not applicable
	TriggerPrice float64     `json:"trigger_price,omitempty"` // stop trigger; 0 when not applicable
	Status       OrderStatus `json:"status"`
	FilledQty    int64       `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price,omitempty"`
	ParentID     string      `json:"parent_id,omitempty"` // non-empty for bracket/cover children
	Tag          OrderTag    `json:"tag,omitempty"`
	OCOGroup     string      `json:"oco_group,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Remaining returns the unfilled quantity, never negative.
func (o Order) Remaining() int64 {
	if r := o.Qty - o.FilledQty; r > 0 {
		return r
	}
	return 0
}

// IsChild reports whether the order belongs to a bracket/cover group and
// therefore activates only once its parent fills.
func (o Order) IsChild() bool {
	return o.Tag != OrderTagEntry && o.ParentID != ""
}

// OrderRequest is the placement payload accepted from the API layer.
type OrderRequest struct {
	UserID       string    `json:"user_id"`
	Symbol       string    `json:"symbol"`
	Side         OrderSide `json:"side"`
	Qty          int64     `json:"qty"`
	Type         OrderType `json:"order_type"`
	Price        float64   `json:"price,omitempty"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`

	// Bracket/cover extensions: when TakeProfit and/or StopLoss are set the
	// engine creates the corresponding child orders in one OCO group.
	TakeProfit float64 `json:"take_profit,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
}

// OrderResult is the synchronous response to placement/cancel/modify calls.
// Asynchronous fills are communicated over the broadcast channel.
type OrderResult struct {
	OrderID      string      `json:"order_id"`
	Status       OrderStatus `json:"status"`
	FilledQty    int64       `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price,omitempty"`
	Reason       string      `json:"reason,omitempty"`
}
