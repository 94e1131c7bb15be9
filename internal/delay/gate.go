// Package delay enforces the feed publication delay: no consumer observes a
// tick earlier than the configured window after its origination timestamp.
package delay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantnest/papervenue/internal/domain"
)

// DefaultWindow is the regulatory-style publication delay.
const DefaultWindow = 900 * time.Second

// DefaultBatchCap bounds how many ticks one release cycle may emit, keeping
// tail latency bounded under backlog.
const DefaultBatchCap = 500

// TickSink consumes released ticks. Sinks are invoked synchronously, in
// registration order, one tick at a time, so per-instrument ordering holds
// downstream: matching for one tick completes before the next tick of that
// instrument is handed over.
type TickSink interface {
	HandleTick(ctx context.Context, tick domain.Tick) error
}

// Gate drains the staging area on a fixed period, releasing every tick whose
// timestamp is at or below now − window, oldest first.
type Gate struct {
	stage    domain.TickStage
	window   time.Duration
	batchCap int
	sinks    []TickSink
	logger   *slog.Logger
}

// NewGate creates a Gate over the staging area. window <= 0 falls back to
// DefaultWindow, batchCap <= 0 to DefaultBatchCap.
func NewGate(stage domain.TickStage, window time.Duration, batchCap int, logger *slog.Logger) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if batchCap <= 0 {
		batchCap = DefaultBatchCap
	}
	return &Gate{
		stage:    stage,
		window:   window,
		batchCap: batchCap,
		logger:   logger.With(slog.String("component", "delay_gate")),
	}
}

// AddSink registers a consumer of released ticks. Not safe to call once the
// gate is running.
func (g *Gate) AddSink(s TickSink) {
	g.sinks = append(g.sinks, s)
}

// Window returns the configured delay window.
func (g *Gate) Window() time.Duration { return g.window }

// ReleaseCycle runs one release pass at the given wall-clock instant and
// returns the number of ticks released. The threshold test is authoritative:
// correctness of the delay window wins over throughput, so the batch cap only
// ever defers releases, never hastens them.
func (g *Gate) ReleaseCycle(ctx context.Context, now time.Time) (int, error) {
	threshold := now.Add(-g.window)

	ticks, err := g.stage.ReleaseDue(ctx, threshold, g.batchCap)
	if err != nil {
		return 0, fmt.Errorf("delay: release due: %w", err)
	}

	for _, tk := range ticks {
		if !tk.Valid() {
			g.logger.Warn("dropping malformed staged tick",
				slog.String("symbol", tk.Symbol),
			)
			continue
		}
		for _, sink := range g.sinks {
			if err := sink.HandleTick(ctx, tk); err != nil {
				// A sink failure must not hold back the release: the feed is
				// best-effort and a crash here at worst causes a gap.
				g.logger.Error("tick sink failed",
					slog.String("symbol", tk.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return len(ticks), nil
}

// Run executes release cycles on the given period until ctx is cancelled.
func (g *Gate) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = time.Second
	}
	g.logger.Info("delay gate started",
		slog.Duration("window", g.window),
		slog.Int("batch_cap", g.batchCap),
		slog.Duration("period", period),
	)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("delay gate stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := g.ReleaseCycle(ctx, time.Now()); err != nil {
				g.logger.Error("release cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}
