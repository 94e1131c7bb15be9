package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantnest/papervenue/internal/domain"
)

// stageKey is the sorted set holding not-yet-released ticks, scored by their
// origination timestamp in milliseconds. Oldest tick = lowest score, so a
// bounded ZRangeByScore walk releases strictly oldest-first.
const stageKey = "ticks:staged"

// TickStage implements domain.TickStage on a Redis sorted set.
type TickStage struct {
	rdb *redis.Client
}

// NewTickStage creates a TickStage backed by the given Client.
func NewTickStage(c *Client) *TickStage {
	return &TickStage{rdb: c.Underlying()}
}

// Stage adds a tick to the staging area.
func (s *TickStage) Stage(ctx context.Context, tick domain.Tick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("redis: marshal staged tick: %w", err)
	}
	member := redis.Z{
		Score:  float64(tick.Timestamp.UnixMilli()),
		Member: payload,
	}
	if err := s.rdb.ZAdd(ctx, stageKey, member).Err(); err != nil {
		return fmt.Errorf("redis: stage tick %s: %w", tick.Symbol, err)
	}
	return nil
}

// ReleaseDue removes and returns up to limit ticks with timestamp <=
// threshold, oldest first. Removal happens before the caller delivers the
// ticks downstream, so a crash in between loses at most one batch — the feed
// is best-effort by contract.
func (s *TickStage) ReleaseDue(ctx context.Context, threshold time.Time, limit int) ([]domain.Tick, error) {
	rng := &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(threshold.UnixMilli(), 10),
		Count: int64(limit),
	}
	members, err := s.rdb.ZRangeByScore(ctx, stageKey, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: range staged ticks: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	ticks := make([]domain.Tick, 0, len(members))
	for _, m := range members {
		var tk domain.Tick
		if err := json.Unmarshal([]byte(m), &tk); err != nil {
			// Malformed member: drop it from the set and move on.
			pipe.ZRem(ctx, stageKey, m)
			continue
		}
		ticks = append(ticks, tk)
		pipe.ZRem(ctx, stageKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: remove staged ticks: %w", err)
	}
	return ticks, nil
}

// Pending returns the number of staged ticks.
func (s *TickStage) Pending(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, stageKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count staged ticks: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.TickStage = (*TickStage)(nil)
