// Package jobs runs the venue's periodic work: the delay-gate release cycle,
// candle finalize-and-flush, the end-of-day square-off and cold-storage
// archival. Jobs that must run on exactly one instance take a distributed
// lock first.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/quantnest/papervenue/internal/blob/s3"
	"github.com/quantnest/papervenue/internal/candle"
	"github.com/quantnest/papervenue/internal/delay"
	"github.com/quantnest/papervenue/internal/domain"
	"github.com/quantnest/papervenue/internal/engine"
	"github.com/quantnest/papervenue/internal/feed"
)

const (
	squareOffLockKey = "jobs:squareoff"
	archiveLockKey   = "jobs:archive"
	jobLockTTL       = 10 * time.Minute
)

// Config tunes job scheduling. Zero values select defaults.
type Config struct {
	ReleaseInterval  time.Duration // delay-gate release cycle, default 1s
	FlushInterval    time.Duration // candle flush cycle, default 10s
	SquareOffTime    string        // "HH:MM" UTC, empty disables the job
	ArchiveInterval  time.Duration // archival cycle, default 24h
	ArchiveRetention time.Duration // rows older than this are archived, default 30d
}

func (c Config) withDefaults() Config {
	if c.ReleaseInterval <= 0 {
		c.ReleaseInterval = time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.ArchiveInterval <= 0 {
		c.ArchiveInterval = 24 * time.Hour
	}
	if c.ArchiveRetention <= 0 {
		c.ArchiveRetention = 30 * 24 * time.Hour
	}
	return c
}

// Orchestrator coordinates the venue's background goroutines.
type Orchestrator struct {
	cfg        Config
	ingestor   *feed.Ingestor
	gate       *delay.Gate
	aggregator *candle.Aggregator
	engine     *engine.Engine
	archiver   *s3blob.Archiver // nil when cold storage is disabled
	locks      domain.LockManager
	logger     *slog.Logger
}

// NewOrchestrator wires the background jobs together. The archiver may be
// nil; the archival loop is then skipped entirely.
func NewOrchestrator(
	cfg Config,
	ingestor *feed.Ingestor,
	gate *delay.Gate,
	aggregator *candle.Aggregator,
	eng *engine.Engine,
	archiver *s3blob.Archiver,
	locks domain.LockManager,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		ingestor:   ingestor,
		gate:       gate,
		aggregator: aggregator,
		engine:     eng,
		archiver:   archiver,
		locks:      locks,
		logger:     logger.With(slog.String("component", "jobs")),
	}
}

// Run starts every loop and blocks until ctx is cancelled or a loop fails
// with a non-context error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("starting background jobs",
		slog.Duration("release_interval", o.cfg.ReleaseInterval),
		slog.Duration("flush_interval", o.cfg.FlushInterval),
		slog.String("square_off_time", o.cfg.SquareOffTime),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.ingestor.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("ingestor: %w", err)
	})

	g.Go(func() error {
		err := o.gate.Run(ctx, o.cfg.ReleaseInterval)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("delay gate: %w", err)
	})

	g.Go(func() error {
		o.flushLoop(ctx)
		return nil
	})

	if o.cfg.SquareOffTime != "" {
		g.Go(func() error {
			return o.squareOffLoop(ctx)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			o.archiveLoop(ctx)
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("background jobs stopped", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("background jobs stopped cleanly")
	return nil
}

// flushLoop finalizes and persists candle buckets on a fixed period.
func (o *Orchestrator) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.aggregator.FlushAll(ctx, time.Now().UTC()); err != nil {
				o.logger.Error("candle flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// squareOffLoop closes all open positions once per day at the configured UTC
// time. A distributed lock keeps the job on a single instance.
func (o *Orchestrator) squareOffLoop(ctx context.Context) error {
	at, err := time.Parse("15:04", o.cfg.SquareOffTime)
	if err != nil {
		return fmt.Errorf("jobs: bad square-off time %q: %w", o.cfg.SquareOffTime, err)
	}

	for {
		wait := untilNext(time.Now().UTC(), at.Hour(), at.Minute())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		o.withLock(ctx, squareOffLockKey, func() {
			o.logger.Info("running end-of-day square-off")
			o.engine.SquareOffAll(ctx, "system")
		})
	}
}

// archiveLoop moves aged rows to cold storage on a fixed period.
func (o *Orchestrator) archiveLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.withLock(ctx, archiveLockKey, func() {
				cutoff := time.Now().UTC().Add(-o.cfg.ArchiveRetention)
				if err := o.archiver.Run(ctx, cutoff); err != nil {
					o.logger.Error("archive run failed", slog.String("error", err.Error()))
				}
			})
		}
	}
}

// withLock runs fn while holding a distributed lock, skipping silently when
// another instance holds it.
func (o *Orchestrator) withLock(ctx context.Context, key string, fn func()) {
	unlock, err := o.locks.Acquire(ctx, key, jobLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			o.logger.Info("job lock held elsewhere, skipping", slog.String("key", key))
			return
		}
		o.logger.Error("acquire job lock", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	defer unlock()
	fn()
}

// untilNext returns the duration from now to the next occurrence of the
// given UTC wall-clock time.
func untilNext(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
