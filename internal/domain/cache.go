package domain

import (
	"context"
	"time"
)

// ActionLog records actor actions for velocity checks.
type ActionLog interface {
	Record(ctx context.Context, actorID, action string, at time.Time) error
	CountSince(ctx context.Context, actorID, action string, since time.Time) (int, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// TradeEventsChannel is the pub/sub channel a trade's events are pushed on.
func TradeEventsChannel(tradeID string) string {
	return "trade:events:" + tradeID
}

// TradeEventsPattern matches every trade's event channel.
const TradeEventsPattern = "trade:events:*"

// TradeEventsStream is the durable stream all trade events are appended to.
const TradeEventsStream = "stream:trade_events"
