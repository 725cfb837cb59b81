package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// RiskAssessment is the advisory consult run before financial-exposure
// transitions. It never blocks: HighRisk only adds a high_risk_transition
// event next to the transition.
type RiskAssessment struct {
	HighRisk bool                         `json:"high_risk"`
	Reasons  []string                     `json:"reasons"`
	Trust    map[string]domain.TrustScore `json:"trust"`
	Velocity *domain.RiskCheck            `json:"velocity,omitempty"`
	Delivery *domain.DeliveryEstimate     `json:"delivery,omitempty"`
	// Degraded names the consults that could not be completed.
	Degraded []string `json:"degraded,omitempty"`
}

// Fields is the payload of the high_risk_transition event.
func (r RiskAssessment) Fields() map[string]any {
	trust := make(map[string]any, len(r.Trust))
	for id, s := range r.Trust {
		trust[id] = map[string]any{"total": s.Total, "tier": string(s.Tier)}
	}
	out := map[string]any{
		"reasons": r.Reasons,
		"trust":   trust,
	}
	if r.Velocity != nil {
		out["velocity_risk"] = r.Velocity.RiskScore
	}
	if r.Delivery != nil {
		out["delivery_confidence"] = r.Delivery.Confidence
	}
	if len(r.Degraded) > 0 {
		out["degraded"] = r.Degraded
	}
	return out
}

// assessRisk consults trust for both counterparties, velocity for the actor
// and corridor confidence for the lane in parallel. Missing engines and
// failed consults degrade the assessment; they never flag.
func (k *Kernel) assessRisk(ctx context.Context, t domain.Trade, actor domain.Actor) RiskAssessment {
	var (
		mu sync.Mutex
		ra = RiskAssessment{Reasons: []string{}, Trust: map[string]domain.TrustScore{}}
	)
	degrade := func(what string, err error) {
		k.logger.WarnContext(ctx, "risk consult degraded",
			slog.String("trade_id", t.ID),
			slog.String("consult", what),
			slog.String("error", err.Error()),
		)
		mu.Lock()
		ra.Degraded = append(ra.Degraded, what)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if k.trust != nil {
		for _, id := range t.Counterparties() {
			g.Go(func() error {
				score, err := k.trust.ComputeTrustScore(gctx, id)
				if err != nil {
					degrade("trust:"+id, err)
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				ra.Trust[id] = score
				if score.Total < k.cfg.TrustFloor {
					ra.Reasons = append(ra.Reasons,
						fmt.Sprintf("counterparty %s trust %d below floor %d", id, score.Total, k.cfg.TrustFloor))
				}
				return nil
			})
		}
	}
	if k.velocity != nil && actor.ID != "" {
		g.Go(func() error {
			check := k.velocity.CheckVelocity(gctx, actor.ID, k.cfg.VelocityAction)
			mu.Lock()
			defer mu.Unlock()
			ra.Velocity = &check
			if check.RiskScore > k.cfg.FraudCeiling {
				ra.Reasons = append(ra.Reasons,
					fmt.Sprintf("actor %s velocity risk %.0f above ceiling %.0f", actor.ID, check.RiskScore, k.cfg.FraudCeiling))
			}
			return nil
		})
	}
	if k.corridor != nil && t.Origin != "" && t.Destination != "" {
		g.Go(func() error {
			est, err := k.corridor.EstimateDeliveryConfidence(gctx, t.Origin, t.Destination, t.SellerID)
			if err != nil {
				degrade("corridor", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			ra.Delivery = &est
			if est.Confidence < k.cfg.CorridorFloor {
				ra.Reasons = append(ra.Reasons,
					fmt.Sprintf("corridor %s-%s delivery confidence %.1f below floor %.0f", t.Origin, t.Destination, est.Confidence, k.cfg.CorridorFloor))
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(ra.Reasons)
	slices.Sort(ra.Degraded)
	ra.HighRisk = len(ra.Reasons) > 0
	return ra
}
