package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// ErrNoDossierSink is returned by ExportDossier when no sink is configured.
var ErrNoDossierSink = errors.New("kernel: dossier export not configured")

// BuildDossier collects everything document rendering needs for a trade.
func (k *Kernel) BuildDossier(ctx context.Context, tradeID string) (domain.Dossier, error) {
	t, err := k.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Dossier{}, err
	}
	events, err := k.trades.ListEvents(ctx, tradeID, domain.ListOpts{})
	if err != nil {
		return domain.Dossier{}, fmt.Errorf("kernel: dossier events: %w", err)
	}
	quotes, err := k.trades.ListQuotes(ctx, tradeID)
	if err != nil {
		return domain.Dossier{}, fmt.Errorf("kernel: dossier quotes: %w", err)
	}

	d := domain.Dossier{
		Trade:       t,
		Events:      events,
		Quotes:      quotes,
		Trust:       map[string]domain.TrustScore{},
		GeneratedAt: k.now(),
	}
	rec, err := k.consensus.Get(ctx, tradeID)
	switch {
	case err == nil:
		st := rec.Status()
		d.Consensus = &st
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Dossier{}, fmt.Errorf("kernel: dossier consensus: %w", err)
	}
	if k.trust != nil {
		for _, id := range t.Counterparties() {
			score, err := k.trust.ComputeTrustScore(ctx, id)
			if err != nil {
				k.logger.WarnContext(ctx, "dossier trust lookup failed",
					slog.String("trade_id", tradeID),
					slog.String("counterparty_id", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			d.Trust[id] = score
		}
	}
	return d, nil
}

// ExportDossier builds and stores a trade's dossier, returning its path.
func (k *Kernel) ExportDossier(ctx context.Context, tradeID string) (string, error) {
	if k.dossiers == nil {
		return "", ErrNoDossierSink
	}
	d, err := k.BuildDossier(ctx, tradeID)
	if err != nil {
		return "", err
	}
	path, err := k.dossiers.WriteDossier(ctx, d)
	if err != nil {
		return "", fmt.Errorf("kernel: write dossier: %w: %w", domain.ErrExternalDependency, err)
	}
	k.logger.InfoContext(ctx, "dossier exported",
		slog.String("trade_id", tradeID),
		slog.String("path", path),
	)
	return path, nil
}
