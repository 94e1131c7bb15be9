package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantnest/papervenue/internal/domain"
)

// buildChildren derives the bracket/cover child orders from a placement
// request. A take-profit becomes a LIMIT on the opposite side, a stop-loss a
// STOP_MARKET; both share one OCO group. Children stay inactive (neither in
// the book nor on the trigger watch) until the entry fills. The entry itself
// carries no OCO group — its fill activates the children rather than
// cancelling them.
func buildChildren(entry domain.Order, req domain.OrderRequest, now time.Time) []domain.Order {
	if req.TakeProfit <= 0 && req.StopLoss <= 0 {
		return nil
	}

	group := uuid.New().String()
	exit := entry.Side.Opposite()
	var kids []domain.Order

	if req.TakeProfit > 0 {
		kids = append(kids, domain.Order{
			ID:        uuid.New().String(),
			UserID:    entry.UserID,
			Symbol:    entry.Symbol,
			Side:      exit,
			Qty:       entry.Qty,
			Type:      domain.OrderTypeLimit,
			Price:     req.TakeProfit,
			Status:    domain.OrderStatusPending,
			ParentID:  entry.ID,
			Tag:       domain.OrderTagTakeProfit,
			OCOGroup:  group,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if req.StopLoss > 0 {
		tag := domain.OrderTagStopLoss
		if req.TakeProfit <= 0 {
			// Single stop child, no target: a cover order.
			tag = domain.OrderTagCoverStop
		}
		kids = append(kids, domain.Order{
			ID:           uuid.New().String(),
			UserID:       entry.UserID,
			Symbol:       entry.Symbol,
			Side:         exit,
			Qty:          entry.Qty,
			Type:         domain.OrderTypeStopMarket,
			TriggerPrice: req.StopLoss,
			Status:       domain.OrderStatusPending,
			ParentID:     entry.ID,
			Tag:          tag,
			OCOGroup:     group,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return kids
}

// afterFill runs the orchestration that follows a fill commit: activating
// bracket children when an entry completes and enforcing the OCO guarantee
// when a grouped order completes. Caller holds the symbol lock.
func (e *Engine) afterFill(ctx context.Context, st *symbolState, o *domain.Order) {
	if o.Status != domain.OrderStatusFilled {
		return
	}

	if o.OCOGroup != "" {
		e.cancelSiblings(ctx, st, o)
	}
	e.activateChildren(ctx, st, o.ID)
	e.forget(o.ID)
}

// activateChildren wakes the children of a filled entry: stop children join
// the trigger watch, limit children go through matching and rest in the book.
func (e *Engine) activateChildren(ctx context.Context, st *symbolState, parentID string) {
	e.mu.RLock()
	ids := append([]string(nil), e.children[parentID]...)
	e.mu.RUnlock()

	for _, id := range ids {
		c := e.order(id)
		if c == nil || c.Status.Terminal() {
			continue
		}
		e.logger.Info("activating bracket child",
			slog.String("order_id", c.ID),
			slog.String("tag", string(c.Tag)))

		if c.Type.HasTrigger() {
			st.watch[c.ID] = struct{}{}
			continue
		}
		if err := e.execute(ctx, st, c); err != nil {
			e.logger.Error("activate child failed",
				slog.String("order_id", c.ID),
				slog.String("error", err.Error()))
		}
	}
}

// cancelSiblings cancels every non-terminal order sharing the filled order's
// OCO group. At most one order of a group ever executes.
func (e *Engine) cancelSiblings(ctx context.Context, st *symbolState, filled *domain.Order) {
	e.mu.RLock()
	ids := append([]string(nil), e.groups[filled.OCOGroup]...)
	e.mu.RUnlock()

	for _, id := range ids {
		if id == filled.ID {
			continue
		}
		sib := e.order(id)
		if sib == nil || sib.Status.Terminal() {
			continue
		}
		e.cancelLocked(ctx, st, sib, "engine", "oco sibling filled")
	}
}
