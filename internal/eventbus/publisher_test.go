package eventbus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/store/memory"
)

func TestPublishFansOut(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	sub, err := bus.Subscribe(ctx, domain.TradeEventsPattern)
	require.NoError(err)

	p := NewPublisher(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Publish(ctx, domain.TradeEvent{ID: "e1", TradeID: "t1", Type: domain.TransitionEventType(domain.StateRFQOpen)})

	select {
	case msg := <-sub:
		var ev domain.TradeEvent
		require.NoError(json.Unmarshal(msg, &ev))
		require.Equal("e1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	stored, err := bus.StreamRead(ctx, domain.TradeEventsStream, "0", 10)
	require.NoError(err)
	require.Len(stored, 1)
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	require.NotPanics(t, func() { p.Publish(context.Background(), domain.TradeEvent{}) })
	require.NotPanics(t, func() {
		NewPublisher(nil, slog.Default()).Publish(context.Background(), domain.TradeEvent{})
	})
}
