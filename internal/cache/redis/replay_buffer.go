package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantnest/papervenue/internal/domain"
)

const replaySymbolsKey = "ticks:replay:symbols"

func replayKey(symbol string) string {
	return "ticks:replay:" + symbol
}

// ReplayBuffer implements domain.ReplayBuffer on per-symbol Redis lists. The
// candle aggregator reads the whole buffer, finalizes elapsed minutes and
// replaces the list with the ticks of still-open buckets.
type ReplayBuffer struct {
	rdb *redis.Client
}

// NewReplayBuffer creates a ReplayBuffer backed by the given Client.
func NewReplayBuffer(c *Client) *ReplayBuffer {
	return &ReplayBuffer{rdb: c.Underlying()}
}

// Append adds a released tick to its symbol's buffer.
func (b *ReplayBuffer) Append(ctx context.Context, tick domain.Tick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("redis: marshal replay tick: %w", err)
	}
	pipe := b.rdb.Pipeline()
	pipe.RPush(ctx, replayKey(tick.Symbol), payload)
	pipe.SAdd(ctx, replaySymbolsKey, tick.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append replay tick %s: %w", tick.Symbol, err)
	}
	return nil
}

// List returns every buffered tick for symbol, in arrival order. Entries that
// fail to decode are skipped.
func (b *ReplayBuffer) List(ctx context.Context, symbol string) ([]domain.Tick, error) {
	raw, err := b.rdb.LRange(ctx, replayKey(symbol), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list replay %s: %w", symbol, err)
	}
	ticks := make([]domain.Tick, 0, len(raw))
	for _, r := range raw {
		var tk domain.Tick
		if err := json.Unmarshal([]byte(r), &tk); err != nil {
			continue
		}
		ticks = append(ticks, tk)
	}
	return ticks, nil
}

// Replace overwrites the buffer for symbol with the remaining ticks.
func (b *ReplayBuffer) Replace(ctx context.Context, symbol string, remaining []domain.Tick) error {
	pipe := b.rdb.Pipeline()
	pipe.Del(ctx, replayKey(symbol))
	if len(remaining) > 0 {
		payloads := make([]interface{}, 0, len(remaining))
		for _, tk := range remaining {
			p, err := json.Marshal(tk)
			if err != nil {
				return fmt.Errorf("redis: marshal replay tick: %w", err)
			}
			payloads = append(payloads, p)
		}
		pipe.RPush(ctx, replayKey(symbol), payloads...)
	} else {
		pipe.SRem(ctx, replaySymbolsKey, symbol)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: replace replay %s: %w", symbol, err)
	}
	return nil
}

// Symbols returns every symbol with buffered ticks.
func (b *ReplayBuffer) Symbols(ctx context.Context) ([]string, error) {
	syms, err := b.rdb.SMembers(ctx, replaySymbolsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list replay symbols: %w", err)
	}
	return syms, nil
}

// Compile-time interface check.
var _ domain.ReplayBuffer = (*ReplayBuffer)(nil)
