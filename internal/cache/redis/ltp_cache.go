package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantnest/papervenue/internal/domain"
)

// LTPCache implements domain.LTPCache using Redis hashes. Each symbol's last
// released trade price is stored at key "ltp:{symbol}" with fields "price"
// and "ts" (Unix nanosecond timestamp).
type LTPCache struct {
	rdb *redis.Client
}

// NewLTPCache creates an LTPCache backed by the given Client.
func NewLTPCache(c *Client) *LTPCache {
	return &LTPCache{rdb: c.Underlying()}
}

func ltpKey(symbol string) string {
	return "ltp:" + symbol
}

// Set stores the latest released price and timestamp for a symbol.
func (lc *LTPCache) Set(ctx context.Context, symbol string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := lc.rdb.HSet(ctx, ltpKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set ltp %s: %w", symbol, err)
	}
	return nil
}

// Get retrieves the latest released price and timestamp for a symbol. It
// returns domain.ErrNotFound when no tick has been released yet.
func (lc *LTPCache) Get(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := lc.rdb.HGetAll(ctx, ltpKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get ltp %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ltp %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ltp ts %s: %w", symbol, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.LTPCache = (*LTPCache)(nil)
