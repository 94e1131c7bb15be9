package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TickStore persists every normalized tick, append-only.
type TickStore interface {
	Append(ctx context.Context, tick Tick) error
	AppendBatch(ctx context.Context, ticks []Tick) error
	ListRange(ctx context.Context, symbol string, from, to time.Time) ([]Tick, error)
	ListBefore(ctx context.Context, before time.Time) ([]Tick, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CandleStore persists the 1-minute base series. Upserts are idempotent:
// re-running aggregation for a bucket with the same inputs yields the same row.
type CandleStore interface {
	Upsert(ctx context.Context, candle Candle) error
	UpsertBatch(ctx context.Context, candles []Candle) error
	List(ctx context.Context, instrument string, res Resolution, opts ListOpts) ([]Candle, error)
}

// OrderStore persists order state. The engine writes fills through FillStore;
// OrderStore.Update covers non-fill mutations (cancel, modify, trigger).
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	Update(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListOpen(ctx context.Context) ([]Order, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Order, error)
}

// TradeStore persists fills, append-only.
type TradeStore interface {
	ListByOrder(ctx context.Context, orderID string) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists per-(user, symbol) net positions.
type PositionStore interface {
	Get(ctx context.Context, userID, symbol string) (Position, error)
	ListByUser(ctx context.Context, userID string) ([]Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
}

// AccountStore persists per-user cash accounts.
type AccountStore interface {
	Get(ctx context.Context, userID string) (Account, error)
}

// AuditStore is the append-only order lifecycle log. Log failures are
// non-fatal by contract: callers log and continue.
type AuditStore interface {
	Log(ctx context.Context, e AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FillBundle carries every row touched by one fill: the orders on both sides,
// the trade records, the resulting positions (deleted when qty is zero) and
// accounts. ApplyFill persists the whole bundle in a single transaction so a
// partially visible fill can never occur.
type FillBundle struct {
	Orders    []Order
	Trades    []Trade
	Positions []Position // Qty == 0 means delete the row
	Accounts  []Account
}

// FillStore applies fill bundles atomically.
type FillStore interface {
	ApplyFill(ctx context.Context, b FillBundle) error
}

// TickStage is the delay gate's staging area: ticks ordered by their original
// timestamp, released only once older than the delay threshold.
type TickStage interface {
	Stage(ctx context.Context, tick Tick) error
	// ReleaseDue atomically removes and returns up to limit ticks whose
	// timestamp is <= threshold, oldest first.
	ReleaseDue(ctx context.Context, threshold time.Time, limit int) ([]Tick, error)
	Pending(ctx context.Context) (int64, error)
}

// ReplayBuffer holds released ticks per symbol until the candle aggregator
// folds them into finalized buckets and trims them.
type ReplayBuffer interface {
	Append(ctx context.Context, tick Tick) error
	List(ctx context.Context, symbol string) ([]Tick, error)
	// Replace overwrites the buffer for symbol with the remaining ticks.
	Replace(ctx context.Context, symbol string, remaining []Tick) error
	Symbols(ctx context.Context) ([]string, error)
}

// LTPCache exposes the last released trade price per symbol to readers
// outside the engine (handlers, EOD jobs).
type LTPCache interface {
	Set(ctx context.Context, symbol string, price float64, ts time.Time) error
	Get(ctx context.Context, symbol string) (float64, time.Time, error)
}

// StreamMessage is one entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the pub/sub fabric between the core and its subscribers.
// Delivery is at-least-once; consumers treat payloads as idempotent snapshots.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter writes archive objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// LockManager provides distributed locks so scheduled jobs run on exactly one
// instance. Acquire returns ErrLockHeld when the lock is taken elsewhere; the
// returned release function is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter caps request rates per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
