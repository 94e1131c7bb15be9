// Package feed ingests vendor market data: it normalizes raw payloads into
// ticks, persists them, and hands them to the delay gate for staged release.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quantnest/papervenue/internal/domain"
)

// rawTick is the vendor wire format. Symbols arrive in mixed case and
// timestamps as Unix epoch values of varying precision.
type rawTick struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"ts"`
	Last      float64 `json:"ltp"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Volume    int64   `json:"volume"`
}

// Normalize parses a raw vendor payload into a domain tick. It returns
// domain.ErrStaleTick (wrapped) for payloads that are malformed or fail
// validation; callers drop those and continue.
func Normalize(payload []byte) (domain.Tick, error) {
	var raw rawTick
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.Tick{}, fmt.Errorf("feed: decode tick: %v: %w", err, domain.ErrStaleTick)
	}

	tick := domain.Tick{
		Symbol:    strings.ToUpper(strings.TrimSpace(raw.Symbol)),
		Timestamp: normalizeEpoch(raw.Timestamp),
		Last:      raw.Last,
		Bid:       raw.Bid,
		Ask:       raw.Ask,
		Volume:    raw.Volume,
	}

	if !tick.Valid() {
		return domain.Tick{}, fmt.Errorf("feed: invalid tick %q: %w", tick.Symbol, domain.ErrStaleTick)
	}
	return tick, nil
}

// normalizeEpoch interprets a Unix epoch of unknown precision (seconds,
// milliseconds, microseconds or nanoseconds) as a UTC timestamp. Vendors are
// not consistent about this, so precision is inferred from magnitude.
func normalizeEpoch(epoch int64) time.Time {
	if epoch <= 0 {
		return time.Time{}
	}
	switch {
	case epoch < 1e11: // seconds
		return time.Unix(epoch, 0).UTC()
	case epoch < 1e14: // milliseconds
		return time.UnixMilli(epoch).UTC()
	case epoch < 1e17: // microseconds
		return time.UnixMicro(epoch).UTC()
	default: // nanoseconds
		return time.Unix(0, epoch).UTC()
	}
}
