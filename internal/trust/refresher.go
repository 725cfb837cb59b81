package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/metrics"
)

const refreshLockKey = "trust:refresh"

// RefresherConfig controls the scheduled trust recomputation.
type RefresherConfig struct {
	Schedule    string // cron expression with seconds field
	Concurrency int
	PageSize    int
	LockTTL     time.Duration
}

// Refresher periodically recomputes and persists every active
// counterparty's trust score.
type Refresher struct {
	engine         *Engine
	counterparties domain.CounterpartyStore
	locks          domain.LockManager // nil disables cross-instance locking
	metrics        *metrics.Metrics
	cfg            RefresherConfig
	logger         *slog.Logger
}

// NewRefresher creates a Refresher. locks and m may be nil.
func NewRefresher(
	engine *Engine,
	counterparties domain.CounterpartyStore,
	locks domain.LockManager,
	m *metrics.Metrics,
	cfg RefresherConfig,
	logger *slog.Logger,
) *Refresher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Refresher{
		engine:         engine,
		counterparties: counterparties,
		locks:          locks,
		metrics:        m,
		cfg:            cfg,
		logger:         logger.With(slog.String("component", "trust_refresher")),
	}
}

// Run schedules RunOnce on the configured cron expression and blocks until
// ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.WarnContext(ctx, "trust refresh failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("trust: schedule %q: %w", r.cfg.Schedule, err)
	}

	c.Start()
	r.logger.InfoContext(ctx, "trust refresher started", slog.String("schedule", r.cfg.Schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("trust refresher stopped")
	return ctx.Err()
}

// RunOnce recomputes every active counterparty's score and returns how many
// were persisted. A single failed upsert is logged and skipped; it is picked
// up again on the next run. If another instance holds the refresh lock the
// run is skipped.
func (r *Refresher) RunOnce(ctx context.Context) (int, error) {
	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, refreshLockKey, r.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.InfoContext(ctx, "trust refresh skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("trust: acquire refresh lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	var persisted, failed atomic.Int64

	for offset := 0; ; offset += r.cfg.PageSize {
		ids, err := r.counterparties.ListActiveIDs(ctx, domain.ListOpts{
			Limit:  r.cfg.PageSize,
			Offset: offset,
		})
		if err != nil {
			return int(persisted.Load()), fmt.Errorf("trust: list counterparties: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, id := range ids {
			g.Go(func() error {
				if _, err := r.engine.PersistTrustScore(gctx, id); err != nil {
					failed.Add(1)
					r.metrics.TrustRefresh("error")
					r.logger.WarnContext(gctx, "trust refresh: persist failed",
						slog.String("counterparty_id", id),
						slog.String("error", err.Error()),
					)
					return nil
				}
				persisted.Add(1)
				r.metrics.TrustRefresh("ok")
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return int(persisted.Load()), err
		}
		if len(ids) < r.cfg.PageSize {
			break
		}
	}

	r.logger.InfoContext(ctx, "trust refresh complete",
		slog.Int64("persisted", persisted.Load()),
		slog.Int64("failed", failed.Load()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return int(persisted.Load()), nil
}
