// Package pipeline holds the worker-mode maintenance jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const archiveLockKey = "dossier:archive"

// SettledLister pages trade ids by state. domain.TradeStore satisfies it.
type SettledLister interface {
	ListIDsByState(ctx context.Context, state domain.TradeState, opts domain.ListOpts) ([]string, error)
}

// DossierIndex reports which dossiers are already in object storage.
type DossierIndex interface {
	DossierExists(ctx context.Context, tradeID string) (bool, error)
}

// DossierExporter builds and writes a trade's dossier.
type DossierExporter interface {
	ExportDossier(ctx context.Context, tradeID string) (string, error)
}

// ArchiverConfig controls the dossier sweep.
type ArchiverConfig struct {
	Schedule string        // cron expression with seconds field
	Lookback time.Duration // only trades settled within this window; 0 sweeps all
	PageSize int
	LockTTL  time.Duration
}

// Archiver exports the dossier of every settled trade that does not have
// one yet. Exports on settlement are best effort; this sweep catches the
// ones that failed.
type Archiver struct {
	trades   SettledLister
	index    DossierIndex
	exporter DossierExporter
	locks    domain.LockManager // nil disables cross-instance locking
	cfg      ArchiverConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates an Archiver. locks may be nil.
func NewArchiver(trades SettledLister, index DossierIndex, exporter DossierExporter, locks domain.LockManager, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Archiver{
		trades:   trades,
		index:    index,
		exporter: exporter,
		locks:    locks,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "dossier_archiver")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one sweep and returns how many dossiers were written. A
// failed export is logged and retried on the next sweep.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "dossier sweep skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("pipeline: acquire archive lock: %w", err)
		}
		defer unlock()
	}

	opts := domain.ListOpts{Limit: a.cfg.PageSize}
	if a.cfg.Lookback > 0 {
		since := a.now().Add(-a.cfg.Lookback)
		opts.Since = &since
	}

	var scanned, written, failed int
	for {
		ids, err := a.trades.ListIDsByState(ctx, domain.StateSettled, opts)
		if err != nil {
			return written, fmt.Errorf("pipeline: list settled trades: %w", err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			scanned++
			ok, err := a.archive(ctx, id)
			if err != nil {
				failed++
				a.logger.WarnContext(ctx, "dossier export failed",
					slog.String("trade_id", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			if ok {
				written++
			}
		}
		if len(ids) < opts.Limit {
			break
		}
		opts.Offset += len(ids)
	}

	a.logger.InfoContext(ctx, "dossier sweep complete",
		slog.Int("scanned", scanned),
		slog.Int("written", written),
		slog.Int("failed", failed),
	)
	return written, nil
}

func (a *Archiver) archive(ctx context.Context, tradeID string) (bool, error) {
	exists, err := a.index.DossierExists(ctx, tradeID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := a.exporter.ExportDossier(ctx, tradeID); err != nil {
		return false, err
	}
	return true, nil
}

// RunCron schedules Run on the configured expression until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(a.cfg.Schedule, func() {
		if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "dossier sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("pipeline: schedule %q: %w", a.cfg.Schedule, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "dossier archiver started", slog.String("schedule", a.cfg.Schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("dossier archiver stopped")
	return ctx.Err()
}
