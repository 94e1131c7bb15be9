// Package book implements the per-instrument resting-order book with
// price-time priority: best price first, FIFO within a price level.
//
// Only LIMIT orders rest here. The book holds references (order id, price,
// remaining qty, arrival sequence), never order state itself; the matching
// engine resolves ids against its own order index and is responsible for all
// locking — a Book is not safe for concurrent use on its own.
package book

import (
	"sort"

	"github.com/quantnest/papervenue/internal/domain"
)

// Entry is one resting order reference.
type Entry struct {
	OrderID string
	UserID  string
	Price   float64
	Qty     int64 // remaining quantity
	seq     int64 // arrival order, ties broken FIFO
}

// side holds one side of the book, kept sorted best-first at all times:
// bids descending by price, asks ascending, earlier arrival first on ties.
type side struct {
	entries []*Entry
	desc    bool // true for bids
}

// less reports whether a ranks strictly better than b.
func (s *side) less(a, b *Entry) bool {
	if a.Price != b.Price {
		if s.desc {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	return a.seq < b.seq
}

func (s *side) insert(e *Entry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.less(e, s.entries[i])
	})
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

func (s *side) remove(orderID string) bool {
	for i, e := range s.entries {
		if e.OrderID == orderID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Book is the two-sided resting order book for a single instrument.
type Book struct {
	symbol  string
	bids    side
	asks    side
	byID    map[string]domain.OrderSide
	nextSeq int64
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   side{desc: true},
		asks:   side{desc: false},
		byID:   make(map[string]domain.OrderSide),
	}
}

// Symbol returns the instrument this book serves.
func (b *Book) Symbol() string { return b.symbol }

// Insert adds a resting reference for the order. Re-inserting an id that is
// already resting is a no-op, so partial fills keep their original arrival
// priority.
func (b *Book) Insert(o domain.Order) {
	if _, ok := b.byID[o.ID]; ok {
		return
	}
	b.nextSeq++
	e := &Entry{
		OrderID: o.ID,
		UserID:  o.UserID,
		Price:   o.Price,
		Qty:     o.Remaining(),
		seq:     b.nextSeq,
	}
	if o.Side == domain.OrderSideBuy {
		b.bids.insert(e)
	} else {
		b.asks.insert(e)
	}
	b.byID[o.ID] = o.Side
}

// Remove deletes the resting reference for orderID. It is idempotent:
// cancellation, full fill and cleanup can race to remove the same id.
func (b *Book) Remove(orderID string) {
	sd, ok := b.byID[orderID]
	if !ok {
		return
	}
	delete(b.byID, orderID)
	if sd == domain.OrderSideBuy {
		b.bids.remove(orderID)
	} else {
		b.asks.remove(orderID)
	}
}

// Contains reports whether orderID is resting.
func (b *Book) Contains(orderID string) bool {
	_, ok := b.byID[orderID]
	return ok
}

// PeekBest returns the best resting entry on the given side without removing
// it. Second return is false when the side is empty.
func (b *Book) PeekBest(sd domain.OrderSide) (*Entry, bool) {
	s := &b.asks
	if sd == domain.OrderSideBuy {
		s = &b.bids
	}
	if len(s.entries) == 0 {
		return nil, false
	}
	return s.entries[0], true
}

// PopBest removes and returns the best resting entry on the given side.
func (b *Book) PopBest(sd domain.OrderSide) (*Entry, bool) {
	e, ok := b.PeekBest(sd)
	if !ok {
		return nil, false
	}
	b.Remove(e.OrderID)
	return e, true
}

// Reduce decrements the remaining quantity of a resting entry after a
// partial fill, removing it once exhausted.
func (b *Book) Reduce(orderID string, qty int64) {
	sd, ok := b.byID[orderID]
	if !ok {
		return
	}
	s := &b.asks
	if sd == domain.OrderSideBuy {
		s = &b.bids
	}
	for _, e := range s.entries {
		if e.OrderID == orderID {
			e.Qty -= qty
			if e.Qty <= 0 {
				b.Remove(orderID)
			}
			return
		}
	}
}

// Snapshot returns the top-n entries per side, best first. n <= 0 returns the
// whole book.
func (b *Book) Snapshot(n int) domain.BookSnapshot {
	snap := domain.BookSnapshot{Symbol: b.symbol}
	snap.Bids = levels(b.bids.entries, n)
	snap.Asks = levels(b.asks.entries, n)
	return snap
}

func levels(entries []*Entry, n int) []domain.BookLevel {
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]domain.BookLevel, 0, n)
	for _, e := range entries[:n] {
		out = append(out, domain.BookLevel{
			Price:   e.Price,
			Qty:     e.Qty,
			OrderID: e.OrderID,
		})
	}
	return out
}
