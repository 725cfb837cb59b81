package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const notifyTimeout = 10 * time.Second

// LogThreat appends a finding to the audit trail. Findings attached to a
// trade are also written to that trade's event log.
func (e *Engine) LogThreat(ctx context.Context, f domain.FraudFinding) (domain.FraudFinding, error) {
	var missing []string
	if strings.TrimSpace(f.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(f.EntityType) == "" {
		missing = append(missing, "entity_type")
	}
	if strings.TrimSpace(f.EntityID) == "" {
		missing = append(missing, "entity_id")
	}
	if len(missing) > 0 {
		return domain.FraudFinding{}, fmt.Errorf("%w: finding requires %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if f.RiskScore < 0 || f.RiskScore > 100 {
		return domain.FraudFinding{}, fmt.Errorf("%w: risk_score must be within 0-100", domain.ErrValidation)
	}

	f.ID = uuid.NewString()
	f.CreatedAt = e.now()
	f.Reasons = slices.Clone(f.Reasons)
	if f.Reasons == nil {
		f.Reasons = []string{}
	}
	if f.Severity == "" {
		f.Severity = levelFor(f.RiskScore)
	}

	if err := e.findings.InsertFinding(ctx, f); err != nil {
		return domain.FraudFinding{}, fmt.Errorf("fraud: log threat: %w", err)
	}

	if f.EntityType == domain.EntityTrade && e.events != nil {
		ev := domain.TradeEvent{
			ID:        uuid.NewString(),
			TradeID:   f.EntityID,
			Type:      domain.EventFraudAlert,
			ActorID:   f.ActorID,
			ActorRole: domain.RoleSystem,
			Payload: map[string]any{
				"finding_id": f.ID,
				"type":       f.Type,
				"severity":   string(f.Severity),
				"risk_score": f.RiskScore,
				"reasons":    f.Reasons,
			},
			CreatedAt: f.CreatedAt,
		}
		if err := e.events.AppendEvent(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "fraud alert event not written",
				slog.String("trade_id", f.EntityID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.InfoContext(ctx, "threat logged",
		slog.String("finding_id", f.ID),
		slog.String("type", f.Type),
		slog.String("severity", string(f.Severity)),
		slog.String("entity", f.EntityType+"/"+f.EntityID),
	)
	e.notifyThreat(f)
	return f, nil
}

func (e *Engine) notifyThreat(f domain.FraudFinding) {
	if e.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s on %s %s: risk %.0f (%s)", f.Type, f.EntityType, f.EntityID, f.RiskScore, f.Severity)
	if len(f.Reasons) > 0 {
		msg += "\n" + strings.Join(f.Reasons, "; ")
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, "threat_logged", "Threat logged", msg); err != nil {
			e.logger.WarnContext(ctx, "threat notification failed",
				slog.String("finding_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// ListThreats returns findings for an entity, newest first.
func (e *Engine) ListThreats(ctx context.Context, entityType, entityID string, opts domain.ListOpts) ([]domain.FraudFinding, error) {
	out, err := e.findings.ListFindings(ctx, entityType, entityID, opts)
	if err != nil {
		return nil, fmt.Errorf("fraud: list threats: %w", err)
	}
	return out, nil
}
