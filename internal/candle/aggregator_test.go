package candle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantnest/papervenue/internal/domain"
)

type memBuffer struct {
	mu    sync.Mutex
	ticks map[string][]domain.Tick
}

func newMemBuffer() *memBuffer {
	return &memBuffer{ticks: make(map[string][]domain.Tick)}
}

func (m *memBuffer) Append(_ context.Context, tick domain.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[tick.Symbol] = append(m.ticks[tick.Symbol], tick)
	return nil
}

func (m *memBuffer) List(_ context.Context, symbol string) ([]domain.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Tick(nil), m.ticks[symbol]...), nil
}

func (m *memBuffer) Replace(_ context.Context, symbol string, remaining []domain.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[symbol] = append([]domain.Tick(nil), remaining...)
	return nil
}

func (m *memBuffer) Symbols(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for sym := range m.ticks {
		out = append(out, sym)
	}
	return out, nil
}

type memCandleStore struct {
	mu      sync.Mutex
	candles map[string]domain.Candle // keyed by instrument|ts|res
	fail    bool
}

func newMemCandleStore() *memCandleStore {
	return &memCandleStore{candles: make(map[string]domain.Candle)}
}

func (m *memCandleStore) key(c domain.Candle) string {
	return c.Instrument + "|" + c.Timestamp.UTC().Format(time.RFC3339) + "|" + string(c.Resolution)
}

func (m *memCandleStore) Upsert(_ context.Context, c domain.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("storage unavailable")
	}
	m.candles[m.key(c)] = c
	return nil
}

func (m *memCandleStore) UpsertBatch(ctx context.Context, cs []domain.Candle) error {
	for _, c := range cs {
		if err := m.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *memCandleStore) List(_ context.Context, instrument string, res domain.Resolution, _ domain.ListOpts) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Candle
	for _, c := range m.candles {
		if c.Instrument == instrument && c.Resolution == res {
			out = append(out, c)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tickAt(sym string, ts time.Time, price float64, vol int64) domain.Tick {
	return domain.Tick{Symbol: sym, Timestamp: ts, Last: price, Volume: vol}
}

func TestBuild1mBucketMath(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	ticks := []domain.Tick{
		tickAt("INFY", base.Add(10*time.Second), 100, 5),
		tickAt("INFY", base.Add(20*time.Second), 104, 3),
		tickAt("INFY", base.Add(40*time.Second), 98, 2),
		tickAt("INFY", base.Add(50*time.Second), 101, 4),
	}

	finalized, remaining := Build1m("INFY", ticks, base.Add(2*time.Minute))
	require.Len(t, finalized, 1)
	assert.Empty(t, remaining)

	c := finalized[0]
	assert.Equal(t, base, c.Timestamp)
	assert.Equal(t, domain.Resolution1m, c.Resolution)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 104.0, c.High)
	assert.Equal(t, 98.0, c.Low)
	assert.Equal(t, 101.0, c.Close)
	assert.Equal(t, int64(14), c.Volume)
}

func TestBuild1mOutOfOrderTicks(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	ticks := []domain.Tick{
		tickAt("INFY", base.Add(50*time.Second), 101, 1),
		tickAt("INFY", base.Add(10*time.Second), 100, 1),
	}

	finalized, _ := Build1m("INFY", ticks, base.Add(time.Minute))
	require.Len(t, finalized, 1)
	assert.Equal(t, 100.0, finalized[0].Open, "open comes from the earliest tick by timestamp")
	assert.Equal(t, 101.0, finalized[0].Close)
}

func TestBuild1mKeepsOpenBucket(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	ticks := []domain.Tick{
		tickAt("INFY", base.Add(30*time.Second), 100, 1),
		tickAt("INFY", base.Add(70*time.Second), 102, 1),
	}

	// The second tick's minute has not elapsed yet.
	finalized, remaining := Build1m("INFY", ticks, base.Add(90*time.Second))
	require.Len(t, finalized, 1)
	assert.Equal(t, base, finalized[0].Timestamp)
	require.Len(t, remaining, 1)
	assert.Equal(t, 102.0, remaining[0].Last)
}

func TestFlushSymbolTrimsAndIsReentrant(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	buf := newMemBuffer()
	store := newMemCandleStore()
	agg := NewAggregator(buf, store, testLogger())
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, tickAt("TCS", base.Add(5*time.Second), 50, 1)))
	require.NoError(t, buf.Append(ctx, tickAt("TCS", base.Add(61*time.Second), 51, 1)))

	now := base.Add(90 * time.Second)
	n, err := agg.FlushSymbol(ctx, "TCS", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Running the same flush again must not produce more candles: the folded
	// ticks were trimmed, the open bucket remains.
	n, err = agg.FlushSymbol(ctx, "TCS", now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	left, err := buf.List(ctx, "TCS")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, 51.0, left[0].Last)
}

func TestFlushKeepsBufferOnStoreFailure(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	buf := newMemBuffer()
	store := newMemCandleStore()
	store.fail = true
	agg := NewAggregator(buf, store, testLogger())
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, tickAt("TCS", base.Add(5*time.Second), 50, 1)))

	_, err := agg.FlushSymbol(ctx, "TCS", base.Add(2*time.Minute))
	require.Error(t, err)

	// Ticks stay buffered so the next cycle replays them.
	left, err := buf.List(ctx, "TCS")
	require.NoError(t, err)
	assert.Len(t, left, 1)

	store.fail = false
	n, err := agg.FlushSymbol(ctx, "TCS", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
