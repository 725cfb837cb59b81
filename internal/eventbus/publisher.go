// Package eventbus pushes persisted trade events to subscribers.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// Publisher fans trade events out on the SignalBus: once on the trade's
// pub/sub channel and once on the durable event stream. Delivery is best
// effort; failures are logged, never returned.
type Publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPublisher creates a Publisher. A nil bus makes every call a no-op.
func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger.With(slog.String("component", "eventbus"))}
}

// Publish pushes events in order.
func (p *Publisher) Publish(ctx context.Context, events ...domain.TradeEvent) {
	if p == nil || p.bus == nil {
		return
	}
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.WarnContext(ctx, "event marshal failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := p.bus.Publish(ctx, domain.TradeEventsChannel(ev.TradeID), data); err != nil {
			p.logger.WarnContext(ctx, "event publish failed",
				slog.String("trade_id", ev.TradeID),
				slog.String("error", err.Error()),
			)
		}
		if err := p.bus.StreamAppend(ctx, domain.TradeEventsStream, data); err != nil {
			p.logger.WarnContext(ctx, "event stream append failed",
				slog.String("trade_id", ev.TradeID),
				slog.String("error", err.Error()),
			)
		}
	}
}
