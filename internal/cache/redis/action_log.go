package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// ActionLog implements domain.ActionLog with one sorted set per actor and
// action, scored by the action's unix time in microseconds.
type ActionLog struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewActionLog creates an ActionLog. Entries older than retention are
// trimmed on every write.
func NewActionLog(c *Client, retention time.Duration) *ActionLog {
	if retention <= 0 {
		retention = time.Hour
	}
	return &ActionLog{rdb: c.Underlying(), retention: retention}
}

func actionKey(actorID, action string) string {
	return keyPrefix + "actions:" + action + ":" + actorID
}

// Record adds the occurrence to the actor's sorted set and trims entries
// older than the retention.
func (l *ActionLog) Record(ctx context.Context, actorID, action string, at time.Time) error {
	key := actionKey(actorID, action)
	cutoff := at.Add(-l.retention).UnixMicro()

	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMicro()), Member: uuid.NewString()})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.Expire(ctx, key, l.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: record %s for %s: %w", action, actorID, err)
	}
	return nil
}

// CountSince counts set members scored at or after since.
func (l *ActionLog) CountSince(ctx context.Context, actorID, action string, since time.Time) (int, error) {
	n, err := l.rdb.ZCount(ctx, actionKey(actorID, action),
		strconv.FormatInt(since.UnixMicro(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count %s for %s: %w", action, actorID, err)
	}
	return int(n), nil
}

var _ domain.ActionLog = (*ActionLog)(nil)
