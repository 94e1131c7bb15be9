package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantnest/papervenue/internal/domain"
)

// HandleTick is the engine's delay-gate sink. For each released tick it
// records the last price, evaluates the trigger watch and runs matching for
// any order that became marketable. The symbol lock is held for the whole
// tick so no stale-price trigger can interleave with the next tick.
func (e *Engine) HandleTick(ctx context.Context, tick domain.Tick) error {
	st := e.symbol(tick.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.last = tick.Last
	st.lastTS = tick.Timestamp
	if err := e.ltp.Set(ctx, tick.Symbol, tick.Last, tick.Timestamp); err != nil {
		e.logger.Warn("ltp cache update failed",
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()))
	}

	for id := range st.watch {
		o := e.order(id)
		if o == nil || o.Status.Terminal() {
			delete(st.watch, id)
			continue
		}
		if !triggered(o, tick.Last) {
			continue
		}
		delete(st.watch, id)
		e.fireTrigger(ctx, st, o, tick.Last)
	}

	e.fillRestingAtTape(ctx, st, tick.Last)
	return nil
}

// fillRestingAtTape fills resting LIMIT orders the released price has crossed:
// a bid at or above the print, an ask at or below it. Fills execute at the
// resting order's own price against the tape. Caller holds the symbol lock.
func (e *Engine) fillRestingAtTape(ctx context.Context, st *symbolState, last float64) {
	if last <= 0 {
		return
	}
	for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		for {
			best, ok := st.book.PeekBest(side)
			if !ok {
				break
			}
			if side == domain.OrderSideBuy && best.Price < last {
				break
			}
			if side == domain.OrderSideSell && best.Price > last {
				break
			}

			o := e.order(best.OrderID)
			if o == nil || o.Status.Terminal() || o.Remaining() == 0 {
				st.book.Remove(best.OrderID)
				continue
			}
			if err := e.applySingleFill(ctx, st, o, o.Remaining(), o.Price); err != nil {
				e.logger.Error("tape fill failed",
					slog.String("order_id", o.ID),
					slog.String("error", err.Error()))
				return
			}
			st.book.Remove(best.OrderID)
		}
	}
}

// triggered evaluates the stop condition: BUY stops fire when the price rises
// to the trigger, SELL stops when it falls to it.
func triggered(o *domain.Order, last float64) bool {
	if o.Side == domain.OrderSideBuy {
		return last >= o.TriggerPrice
	}
	return last <= o.TriggerPrice
}

// fireTrigger converts a stop order to its post-trigger type and runs it
// through matching. The conversion is persisted so a restart rebuilds the
// order as already-triggered. Caller holds the symbol lock.
func (e *Engine) fireTrigger(ctx context.Context, st *symbolState, o *domain.Order, last float64) {
	original := o.Type
	switch o.Type {
	case domain.OrderTypeStopLimit:
		o.Type = domain.OrderTypeLimit
	case domain.OrderTypeStopMarket:
		o.Type = domain.OrderTypeMarket
	case domain.OrderTypeStop:
		// Plain STOP acts as stop-limit when a limit price was given.
		if o.Price > 0 {
			o.Type = domain.OrderTypeLimit
		} else {
			o.Type = domain.OrderTypeMarket
		}
	default:
		return
	}
	o.UpdatedAt = time.Now().UTC()

	if err := e.orderStore.Update(ctx, *o); err != nil {
		e.logger.Error("persist trigger conversion",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()))
	}
	e.audit(ctx, o.ID, domain.AuditTriggered, "engine", map[string]any{
		"trigger_price": o.TriggerPrice,
		"last":          last,
		"from":          string(original),
		"to":            string(o.Type),
	})
	e.publishOrder(ctx, *o)

	if err := e.execute(ctx, st, o); err != nil {
		e.logger.Error("triggered order execution failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()))
	}
}
