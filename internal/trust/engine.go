package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// Engine reads counterparty facts and caches computed scores.
type Engine struct {
	facts  domain.CounterpartyStore
	scores domain.TrustStore
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a trust Engine.
func NewEngine(facts domain.CounterpartyStore, scores domain.TrustStore, logger *slog.Logger) *Engine {
	return &Engine{
		facts:  facts,
		scores: scores,
		logger: logger.With(slog.String("component", "trust")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ComputeTrustScore scores a counterparty from its current facts without
// writing anything. Unknown counterparties get the unrated zero record.
func (e *Engine) ComputeTrustScore(ctx context.Context, counterpartyID string) (domain.TrustScore, error) {
	f, err := e.facts.GetFacts(ctx, counterpartyID)
	if errors.Is(err, domain.ErrNotFound) {
		return Unrated(counterpartyID, e.now()), nil
	}
	if err != nil {
		return domain.TrustScore{}, fmt.Errorf("trust: load facts %s: %w", counterpartyID, err)
	}
	f.CounterpartyID = counterpartyID
	return Compute(f, e.now()), nil
}

// PersistTrustScore recomputes and upserts the score. It is safe to retry.
func (e *Engine) PersistTrustScore(ctx context.Context, counterpartyID string) (domain.TrustScore, error) {
	score, err := e.ComputeTrustScore(ctx, counterpartyID)
	if err != nil {
		return domain.TrustScore{}, err
	}
	if err := e.scores.Upsert(ctx, score); err != nil {
		return domain.TrustScore{}, fmt.Errorf("trust: upsert %s: %w", counterpartyID, err)
	}
	e.logger.DebugContext(ctx, "trust score persisted",
		slog.String("counterparty_id", counterpartyID),
		slog.Int("total", score.Total),
		slog.String("tier", string(score.Tier)),
	)
	return score, nil
}

// Latest returns the cached score, or the unrated record if none is cached.
func (e *Engine) Latest(ctx context.Context, counterpartyID string) (domain.TrustScore, error) {
	s, err := e.scores.Get(ctx, counterpartyID)
	if errors.Is(err, domain.ErrNotFound) {
		return Unrated(counterpartyID, e.now()), nil
	}
	if err != nil {
		return domain.TrustScore{}, fmt.Errorf("trust: get %s: %w", counterpartyID, err)
	}
	return s, nil
}
