package fraud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const velocityFlagScore = 85

// CheckVelocity counts actionType by actorID in the trailing window and flags
// high risk when the count exceeds the threshold. If the action log is
// unreachable the check returns an unflagged zero-confidence result.
func (e *Engine) CheckVelocity(ctx context.Context, actorID, actionType string) domain.RiskCheck {
	since := e.now().Add(-e.cfg.VelocityWindow)
	n, err := e.actions.CountSince(ctx, actorID, actionType, since)
	if err != nil {
		e.logger.WarnContext(ctx, "velocity data unavailable",
			slog.String("actor_id", actorID),
			slog.String("action", actionType),
			slog.String("error", err.Error()),
		)
		return domain.RiskCheck{
			RiskLevel: domain.RiskLow,
			Reasons:   []string{"velocity data unavailable"},
		}
	}

	if n > e.cfg.VelocityThreshold {
		e.metrics.FraudFlag("velocity")
		return domain.RiskCheck{
			Flagged:   true,
			RiskLevel: domain.RiskHigh,
			RiskScore: velocityFlagScore,
			Reasons: []string{fmt.Sprintf("%d %s actions in %s exceeds %d",
				n, actionType, e.cfg.VelocityWindow, e.cfg.VelocityThreshold)},
			Confidence: 0.9,
		}
	}

	score := min(float64(5*n), 50)
	return domain.RiskCheck{
		RiskLevel:  levelFor(score),
		RiskScore:  score,
		Reasons:    []string{},
		Confidence: 0.9,
	}
}

// RecordAction adds one occurrence of actionType by actorID.
func (e *Engine) RecordAction(ctx context.Context, actorID, actionType string) error {
	if err := e.actions.Record(ctx, actorID, actionType, e.now()); err != nil {
		return fmt.Errorf("fraud: record action: %w", err)
	}
	return nil
}
