package candle

import (
	"sort"

	"github.com/quantnest/papervenue/internal/domain"
)

// Resample derives a higher-timeframe series from 1-minute candles by
// grouping them into fixed-width windows and re-applying the OHLCV reduction.
// Higher timeframes are never stored; they are always rebuilt from the base
// series. Input order does not matter; output is ascending by bucket start.
func Resample(base []domain.Candle, res domain.Resolution) []domain.Candle {
	if res == domain.Resolution1m {
		out := make([]domain.Candle, len(base))
		copy(out, base)
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
		return out
	}
	width, ok := res.Width()
	if !ok || len(base) == 0 {
		return nil
	}

	sorted := make([]domain.Candle, len(base))
	copy(sorted, base)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var out []domain.Candle
	for _, c := range sorted {
		start := c.Timestamp.UTC().Truncate(width)
		if len(out) == 0 || !out[len(out)-1].Timestamp.Equal(start) {
			out = append(out, domain.Candle{
				Instrument: c.Instrument,
				Timestamp:  start,
				Resolution: res,
				Open:       c.Open,
				High:       c.High,
				Low:        c.Low,
				Close:      c.Close,
				Volume:     c.Volume,
			})
			continue
		}
		last := &out[len(out)-1]
		if c.High > last.High {
			last.High = c.High
		}
		if c.Low < last.Low {
			last.Low = c.Low
		}
		last.Close = c.Close
		last.Volume += c.Volume
	}
	return out
}
