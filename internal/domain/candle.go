package domain

import "time"

// Resolution is a candle timeframe. Only the 1-minute base series is stored;
// higher timeframes are resampled from it on demand.
type Resolution string

const (
	Resolution1m  Resolution = "1m"
	Resolution5m  Resolution = "5m"
	Resolution15m Resolution = "15m"
	Resolution1h  Resolution = "1h"
	Resolution1D  Resolution = "1D"
)

// ParseResolution validates a timeframe string from the API. The second
// return value is false for unknown resolutions.
func ParseResolution(s string) (Resolution, bool) {
	r := Resolution(s)
	if _, ok := r.Width(); !ok {
		return "", false
	}
	return r, true
}

// Width returns the bucket width of the resolution. The second return value
// is false for unknown resolutions.
func (r Resolution) Width() (time.Duration, bool) {
	switch r {
	case Resolution1m:
		return time.Minute, true
	case Resolution5m:
		return 5 * time.Minute, true
	case Resolution15m:
		return 15 * time.Minute, true
	case Resolution1h:
		return time.Hour, true
	case Resolution1D:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Candle is one OHLCV bucket. Timestamp is the UTC start of the bucket.
// Unique per (instrument, timestamp, resolution).
type Candle struct {
	Instrument string     `json:"instrument"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolution Resolution `json:"resolution"`
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     int64      `json:"volume"`
}
