package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// BusSender publishes events on the signal bus: once on the event's pub/sub
// channel for live subscribers and once on the durable event stream.
type BusSender struct {
	bus domain.SignalBus
}

// NewBusSender creates a BusSender.
func NewBusSender(bus domain.SignalBus) *BusSender {
	return &BusSender{bus: bus}
}

func (b *BusSender) Name() string { return "bus" }

func (b *BusSender) Send(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", evt.Type, err)
	}
	if err := b.bus.Publish(ctx, evt.Channel(), payload); err != nil {
		return err
	}
	return b.bus.StreamAppend(ctx, domain.EventStream, payload)
}

// LogSender writes every event to a structured logger. It is the only sender
// when no bus is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "events"))}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(ctx context.Context, evt domain.Event) error {
	l.logger.InfoContext(ctx, "event",
		slog.String("type", evt.Type),
		slog.String("market_id", evt.MarketID),
		slog.String("game_hash", evt.GameHash),
		slog.Any("data", evt.Data),
	)
	return nil
}
