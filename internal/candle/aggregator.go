// Package candle builds the 1-minute OHLCV base series from released ticks
// and derives higher timeframes on read.
package candle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/quantnest/papervenue/internal/domain"
)

// Aggregator folds the per-symbol replay buffer into finalized 1-minute
// candles. A bucket is finalized only once its wall-clock minute has fully
// elapsed; closing it earlier would corrupt the close value. Ticks folded
// into a persisted bucket are trimmed from the buffer, which makes the flush
// re-entrant: re-running it never double counts.
type Aggregator struct {
	buffer domain.ReplayBuffer
	store  domain.CandleStore
	logger *slog.Logger
}

// NewAggregator creates an Aggregator over the given replay buffer and store.
func NewAggregator(buffer domain.ReplayBuffer, store domain.CandleStore, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		buffer: buffer,
		store:  store,
		logger: logger.With(slog.String("component", "candle_aggregator")),
	}
}

// FlushAll finalizes elapsed 1m buckets for every symbol with buffered ticks.
// Returns the number of candles persisted.
func (a *Aggregator) FlushAll(ctx context.Context, now time.Time) (int, error) {
	symbols, err := a.buffer.Symbols(ctx)
	if err != nil {
		return 0, fmt.Errorf("candle: list symbols: %w", err)
	}

	total := 0
	for _, sym := range symbols {
		n, err := a.FlushSymbol(ctx, sym, now)
		if err != nil {
			a.logger.Error("flush failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		total += n
	}
	return total, nil
}

// FlushSymbol finalizes elapsed 1m buckets for one symbol.
func (a *Aggregator) FlushSymbol(ctx context.Context, symbol string, now time.Time) (int, error) {
	ticks, err := a.buffer.List(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("candle: list buffer %s: %w", symbol, err)
	}
	if len(ticks) == 0 {
		return 0, nil
	}

	finalized, remaining := Build1m(symbol, ticks, now)
	if len(finalized) == 0 {
		return 0, nil
	}

	if err := a.store.UpsertBatch(ctx, finalized); err != nil {
		return 0, fmt.Errorf("candle: upsert %s: %w", symbol, err)
	}

	// Trim only after a successful upsert so a storage failure replays the
	// same ticks next cycle (upserts are idempotent).
	if err := a.buffer.Replace(ctx, symbol, remaining); err != nil {
		return len(finalized), fmt.Errorf("candle: trim buffer %s: %w", symbol, err)
	}

	a.logger.Debug("flushed candles",
		slog.String("symbol", symbol),
		slog.Int("candles", len(finalized)),
		slog.Int("buffered", len(remaining)),
	)
	return len(finalized), nil
}

// Build1m groups ticks into minute buckets and splits them into candles whose
// minute has fully elapsed relative to now, and the ticks that belong to
// still-open buckets. Ticks are processed in timestamp order regardless of
// arrival batching.
func Build1m(symbol string, ticks []domain.Tick, now time.Time) ([]domain.Candle, []domain.Tick) {
	sorted := make([]domain.Tick, len(ticks))
	copy(sorted, ticks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	type bucket struct {
		candle domain.Candle
		seeded bool
	}
	buckets := make(map[int64]*bucket)
	var starts []int64

	for _, tk := range sorted {
		start := tk.Timestamp.UTC().Truncate(time.Minute)
		key := start.Unix()
		b, ok := buckets[key]
		if !ok {
			b = &bucket{candle: domain.Candle{
				Instrument: symbol,
				Timestamp:  start,
				Resolution: domain.Resolution1m,
			}}
			buckets[key] = b
			starts = append(starts, key)
		}
		c := &b.candle
		if !b.seeded {
			c.Open = tk.Last
			c.High = tk.Last
			c.Low = tk.Last
			b.seeded = true
		} else {
			if tk.Last > c.High {
				c.High = tk.Last
			}
			if tk.Last < c.Low {
				c.Low = tk.Last
			}
		}
		c.Close = tk.Last
		c.Volume += tk.Volume
	}

	currentMinute := now.UTC().Truncate(time.Minute).Unix()

	var finalized []domain.Candle
	open := make(map[int64]bool)
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	for _, key := range starts {
		if key < currentMinute {
			finalized = append(finalized, buckets[key].candle)
		} else {
			open[key] = true
		}
	}

	var remaining []domain.Tick
	for _, tk := range sorted {
		if open[tk.Timestamp.UTC().Truncate(time.Minute).Unix()] {
			remaining = append(remaining, tk)
		}
	}
	return finalized, remaining
}
