package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantnest/papervenue/internal/domain"
)

// DefaultChannel is the bus channel raw vendor ticks arrive on.
const DefaultChannel = "feed:ticks"

// Ingestor subscribes to the raw tick channel, normalizes each payload,
// appends it to the permanent tick store and stages it behind the delay gate.
// Nothing downstream of the gate ever sees a tick that has not aged past the
// delay window.
type Ingestor struct {
	bus     domain.SignalBus
	ticks   domain.TickStore
	stage   domain.TickStage
	channel string
	logger  *slog.Logger
}

// NewIngestor creates an Ingestor reading from the given channel. An empty
// channel name selects DefaultChannel.
func NewIngestor(
	bus domain.SignalBus,
	ticks domain.TickStore,
	stage domain.TickStage,
	channel string,
	logger *slog.Logger,
) *Ingestor {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Ingestor{
		bus:     bus,
		ticks:   ticks,
		stage:   stage,
		channel: channel,
		logger:  logger.With(slog.String("component", "ingestor")),
	}
}

// Run subscribes and processes payloads until ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context) error {
	msgs, err := in.bus.Subscribe(ctx, in.channel)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", in.channel, err)
	}
	in.logger.Info("ingestor subscribed", slog.String("channel", in.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			in.Ingest(ctx, payload)
		}
	}
}

// Ingest normalizes and routes one raw payload. Malformed ticks are dropped
// with a warning; store errors are logged and the tick is still staged so the
// live path survives a database hiccup.
func (in *Ingestor) Ingest(ctx context.Context, payload []byte) {
	tick, err := Normalize(payload)
	if err != nil {
		if errors.Is(err, domain.ErrStaleTick) {
			in.logger.Warn("dropping malformed tick", slog.String("error", err.Error()))
			return
		}
		in.logger.Error("normalize tick", slog.String("error", err.Error()))
		return
	}

	if err := in.ticks.Append(ctx, tick); err != nil {
		in.logger.Error("append tick",
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()))
	}

	if err := in.stage.Stage(ctx, tick); err != nil {
		in.logger.Error("stage tick",
			slog.String("symbol", tick.Symbol),
			slog.String("error", err.Error()))
	}
}
