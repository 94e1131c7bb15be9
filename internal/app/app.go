// Package app provides the top-level application lifecycle for the paper
// trading venue. It wires together all dependencies (stores, caches, blob
// storage, the matching engine, the delayed feed pipeline and the API server)
// and runs them until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantnest/papervenue/internal/candle"
	"github.com/quantnest/papervenue/internal/config"
	"github.com/quantnest/papervenue/internal/delay"
	"github.com/quantnest/papervenue/internal/engine"
	"github.com/quantnest/papervenue/internal/feed"
	"github.com/quantnest/papervenue/internal/jobs"
	"github.com/quantnest/papervenue/internal/server"
	"github.com/quantnest/papervenue/internal/server/handler"
	"github.com/quantnest/papervenue/internal/server/ws"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the feed
// pipeline, the matching engine's background jobs and the API server, and
// blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting venue",
		slog.Int("delay_seconds", a.cfg.Feed.DelaySeconds),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Matching engine, rebuilt from persisted open orders.
	eng := engine.New(
		engine.Config{
			PlaceLimit:   a.cfg.Engine.PlaceLimit,
			PlaceWindow:  a.cfg.Engine.PlaceWindow.Duration,
			FillRetries:  a.cfg.Engine.FillRetries,
			RetryBackoff: a.cfg.Engine.RetryBackoff.Duration,
		},
		deps.OrderStore, deps.FillStore, deps.AuditStore,
		deps.AccountStore, deps.PositionStore,
		deps.LTPCache, deps.SignalBus, deps.RateLimiter,
		a.logger,
	)
	if err := eng.Rehydrate(ctx); err != nil {
		return fmt.Errorf("app: rehydrate engine: %w", err)
	}

	// Delayed feed pipeline: ingest -> stage -> gate -> (buffer, engine,
	// broadcast). Sink order matters: the candle buffer and the engine see a
	// tick before it is broadcast to subscribers.
	aggregator := candle.NewAggregator(deps.ReplayBuffer, deps.CandleStore, a.logger)
	gate := delay.NewGate(deps.TickStage, a.cfg.Feed.Delay(), a.cfg.Feed.BatchCap, a.logger)
	gate.AddSink(delay.NewBufferSink(deps.ReplayBuffer))
	gate.AddSink(eng)
	gate.AddSink(delay.NewBroadcastSink(deps.SignalBus))

	ingestor := feed.NewIngestor(deps.SignalBus, deps.TickStore, deps.TickStage, a.cfg.Feed.Channel, a.logger)

	orchestrator := jobs.NewOrchestrator(
		jobs.Config{
			ReleaseInterval:  a.cfg.Feed.ReleaseInterval.Duration,
			FlushInterval:    a.cfg.Jobs.FlushInterval.Duration,
			SquareOffTime:    a.cfg.Jobs.SquareOffTime,
			ArchiveInterval:  a.cfg.Jobs.ArchiveInterval.Duration,
			ArchiveRetention: time.Duration(a.cfg.Jobs.ArchiveRetentionDays) * 24 * time.Hour,
		},
		ingestor, gate, aggregator, eng, deps.Archiver, deps.LockManager, a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orchestrator.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			err := hub.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})

		srv := server.NewServer(
			server.Config{
				Port:            a.cfg.Server.Port,
				CORSOrigins:     a.cfg.Server.CORSOrigins,
				APIKey:          a.cfg.Server.APIKey,
				RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
			},
			server.Handlers{
				Health:    handler.NewHealthHandler(a.logger),
				Orders:    handler.NewOrderHandler(eng, deps.OrderStore, deps.TradeStore, a.logger),
				Candles:   handler.NewCandleHandler(deps.CandleStore, a.logger),
				Book:      handler.NewBookHandler(eng, a.logger),
				Positions: handler.NewPositionHandler(deps.PositionStore, deps.LTPCache, a.logger),
				Account:   handler.NewAccountHandler(deps.AccountStore, deps.PositionStore, deps.LTPCache, a.logger),
				Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
			},
			hub,
			deps.RateLimiter,
			a.logger,
		)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down venue")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
