package delay

import (
	"context"
	"fmt"

	"github.com/quantnest/papervenue/internal/domain"
)

// BufferSink feeds released ticks into the candle replay buffer.
type BufferSink struct {
	buf domain.ReplayBuffer
}

// NewBufferSink creates a BufferSink.
func NewBufferSink(buf domain.ReplayBuffer) *BufferSink {
	return &BufferSink{buf: buf}
}

func (s *BufferSink) HandleTick(ctx context.Context, tick domain.Tick) error {
	if err := s.buf.Append(ctx, tick); err != nil {
		return fmt.Errorf("delay: buffer tick %s: %w", tick.Symbol, err)
	}
	return nil
}

// BroadcastSink publishes released ticks as events on the tick channel. This
// is the only path market data takes to subscribers, so nothing downstream
// ever sees a tick before the gate releases it.
type BroadcastSink struct {
	bus domain.SignalBus
}

// NewBroadcastSink creates a BroadcastSink.
func NewBroadcastSink(bus domain.SignalBus) *BroadcastSink {
	return &BroadcastSink{bus: bus}
}

func (s *BroadcastSink) HandleTick(ctx context.Context, tick domain.Tick) error {
	payload := domain.Event{Type: domain.EventTick, Payload: tick}.Encode()
	if payload == nil {
		return nil
	}
	if err := s.bus.Publish(ctx, domain.ChannelTicks, payload); err != nil {
		return fmt.Errorf("delay: broadcast tick %s: %w", tick.Symbol, err)
	}
	return nil
}

var (
	_ TickSink = (*BufferSink)(nil)
	_ TickSink = (*BroadcastSink)(nil)
)
