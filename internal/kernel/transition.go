package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// TransitionRequest asks the kernel to move a trade into Target.
type TransitionRequest struct {
	TradeID string
	Target  domain.TradeState
	Payload domain.TransitionPayload
	Actor   domain.Actor
	// IdempotencyKey makes retries safe: a repeated key returns the event
	// already written for it instead of applying the transition again.
	IdempotencyKey string
}

// TransitionResult is the outcome of an accepted transition.
type TransitionResult struct {
	Trade    domain.Trade      `json:"trade"`
	Event    domain.TradeEvent `json:"event"`
	Risk     *RiskAssessment   `json:"risk,omitempty"`
	Replayed bool              `json:"replayed"`
}

// TransitionTrade validates and applies one transition. Failures are
// *domain.TransitionError values matching the error taxonomy; risk flags
// never cause a failure.
func (k *Kernel) TransitionTrade(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	start := time.Now()
	res, outcome, err := k.transition(ctx, req)
	k.metrics.ObserveTransition(string(req.Target), outcome, time.Since(start).Seconds())
	return res, err
}

func (k *Kernel) transition(ctx context.Context, req TransitionRequest) (TransitionResult, string, error) {
	if req.IdempotencyKey != "" {
		res, ok, err := k.replay(ctx, req)
		if err != nil {
			return TransitionResult{}, "rejected", err
		}
		if ok {
			return res, "replayed", nil
		}
	}

	cur, err := k.trades.GetByID(ctx, req.TradeID)
	if err != nil {
		return TransitionResult{}, "error", err
	}

	planned, err := k.plan(ctx, cur, req)
	if err != nil {
		var terr *domain.TransitionError
		if errors.As(err, &terr) {
			k.recordRejection(ctx, cur, req, terr)
			return TransitionResult{}, "rejected", terr
		}
		return TransitionResult{}, "error", err
	}

	var risk *RiskAssessment
	if exposesFunds(req.Target) {
		r := k.assessRisk(ctx, cur, req.Actor)
		risk = &r
	}

	now := k.now()
	nextTrade := planned
	nextTrade.Version = cur.Version + 1
	nextTrade.State = req.Target
	nextTrade.UpdatedAt = now

	ev := domain.TradeEvent{
		ID:             uuid.NewString(),
		TradeID:        cur.ID,
		Type:           domain.TransitionEventType(req.Target),
		ActorID:        req.Actor.ID,
		ActorRole:      req.Actor.Role,
		FromState:      cur.State,
		ToState:        req.Target,
		Payload:        domain.PayloadFields(req.Payload),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	events := []domain.TradeEvent{ev}
	if risk != nil && risk.HighRisk {
		events = append(events, domain.TradeEvent{
			ID:        uuid.NewString(),
			TradeID:   cur.ID,
			Type:      domain.EventHighRiskTransition,
			ActorID:   req.Actor.ID,
			ActorRole: req.Actor.Role,
			FromState: cur.State,
			ToState:   req.Target,
			Payload:   risk.Fields(),
			CreatedAt: now,
		})
	}

	err = k.trades.ApplyTransition(ctx, domain.TransitionWrite{
		Trade:            nextTrade,
		ExpectedVersion:  cur.Version,
		Events:           events,
		OpenConsensus:    req.Target == domain.StateDelivered,
		ConsumeConsensus: req.Target == domain.StateSettled,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyExists) && req.IdempotencyKey != "":
		// A concurrent retry with the same key won the write.
		res, ok, rerr := k.replay(ctx, req)
		if rerr != nil {
			return TransitionResult{}, "error", rerr
		}
		if ok {
			return res, "replayed", nil
		}
		return TransitionResult{}, "conflict", k.fail(cur, req, domain.ErrConcurrentModification, nil, "idempotency key raced")
	case errors.Is(err, domain.ErrConcurrentModification):
		k.logger.InfoContext(ctx, "transition lost optimistic lock",
			slog.String("trade_id", cur.ID),
			slog.String("to", string(req.Target)),
			slog.Int64("version", cur.Version),
		)
		return TransitionResult{}, "conflict", k.fail(cur, req, domain.ErrConcurrentModification, nil, "trade changed since it was read; re-fetch and retry")
	case errors.Is(err, domain.ErrConsensusNotReached), errors.Is(err, domain.ErrConsensusConsumed), errors.Is(err, domain.ErrConsensusNotOpen):
		terr := k.consensusFailure(cur, req, err)
		k.recordRejection(ctx, cur, req, terr)
		return TransitionResult{}, "rejected", terr
	default:
		return TransitionResult{}, "error", fmt.Errorf("kernel: apply %s -> %s: %w", cur.State, req.Target, err)
	}

	k.afterCommit(ctx, nextTrade, events, risk, req.Actor)
	return TransitionResult{Trade: nextTrade, Event: ev, Risk: risk}, "applied", nil
}

// TransitionOrigin returns the state a keyed transition departs from: the
// recorded event's FromState when key was already applied, otherwise the
// trade's current state. Payloads decoded against it read the same on a
// retry as on the first attempt.
func (k *Kernel) TransitionOrigin(ctx context.Context, tradeID, key string) (domain.TradeState, error) {
	if key != "" {
		ev, err := k.trades.FindEventByIdempotencyKey(ctx, tradeID, key)
		if err == nil {
			return ev.FromState, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("kernel: idempotency lookup: %w", err)
		}
	}
	t, err := k.trades.GetByID(ctx, tradeID)
	if err != nil {
		return "", err
	}
	return t.State, nil
}

// replay looks up a previously written transition for req's key.
func (k *Kernel) replay(ctx context.Context, req TransitionRequest) (TransitionResult, bool, error) {
	ev, err := k.trades.FindEventByIdempotencyKey(ctx, req.TradeID, req.IdempotencyKey)
	if errors.Is(err, domain.ErrNotFound) {
		return TransitionResult{}, false, nil
	}
	if err != nil {
		return TransitionResult{}, false, fmt.Errorf("kernel: idempotency lookup: %w", err)
	}
	if ev.ToState != req.Target {
		return TransitionResult{}, false, &domain.TransitionError{
			TradeID: req.TradeID, From: ev.FromState, To: req.Target,
			Kind:   domain.ErrValidation,
			Reason: fmt.Sprintf("idempotency key %q already used for -> %s", req.IdempotencyKey, ev.ToState),
		}
	}
	t, err := k.trades.GetByID(ctx, req.TradeID)
	if err != nil {
		return TransitionResult{}, false, err
	}
	return TransitionResult{Trade: t, Event: ev, Replayed: true}, true, nil
}

func (k *Kernel) afterCommit(ctx context.Context, t domain.Trade, events []domain.TradeEvent, risk *RiskAssessment, actor domain.Actor) {
	ev := events[0]
	k.logger.InfoContext(ctx, "trade transitioned",
		slog.String("trade_id", t.ID),
		slog.String("from", string(ev.FromState)),
		slog.String("to", string(ev.ToState)),
		slog.Int64("version", t.Version),
		slog.String("actor_id", actor.ID),
	)

	k.recordAction(ctx, actor.ID, k.cfg.VelocityAction)
	k.publisher.Publish(ctx, events...)

	if risk != nil && risk.HighRisk {
		k.metrics.HighRisk()
		k.logger.WarnContext(ctx, "high risk transition",
			slog.String("trade_id", t.ID),
			slog.String("to", string(ev.ToState)),
			slog.Any("reasons", risk.Reasons),
		)
		k.notify(string(domain.EventHighRiskTransition), "High-risk transition",
			fmt.Sprintf("Trade %s moved to %s with risk flags: %v", t.ID, ev.ToState, risk.Reasons))
	}

	switch t.State {
	case domain.StateEscrowFunded, domain.StateSettled, domain.StateDisputed, domain.StateRefunded, domain.StateCancelled:
		k.notify(string(ev.Type), "Trade "+string(t.State),
			fmt.Sprintf("Trade %s (%s) is now %s.", t.ID, t.Title, t.State))
	}

	if t.State == domain.StateSettled && k.dossiers != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := k.ExportDossier(ctx, t.ID); err != nil {
				k.logger.Warn("dossier export failed",
					slog.String("trade_id", t.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

// recordRejection writes a transition_rejected diagnostic for validation
// and precondition failures. It never carries the idempotency key, so a
// corrected retry with the same key still applies.
func (k *Kernel) recordRejection(ctx context.Context, cur domain.Trade, req TransitionRequest, terr *domain.TransitionError) {
	category := "unknown"
	if c := domain.Category(terr); c != nil {
		category = c.Error()
	}
	ev := domain.TradeEvent{
		ID:        uuid.NewString(),
		TradeID:   cur.ID,
		Type:      domain.EventTransitionRejected,
		ActorID:   req.Actor.ID,
		ActorRole: req.Actor.Role,
		FromState: cur.State,
		ToState:   req.Target,
		Payload: map[string]any{
			"category": category,
			"error":    terr.Error(),
		},
		CreatedAt: k.now(),
	}
	if err := k.trades.AppendEvent(ctx, ev); err != nil {
		k.logger.WarnContext(ctx, "rejection event not written",
			slog.String("trade_id", cur.ID),
			slog.String("error", err.Error()),
		)
	}
	k.logger.InfoContext(ctx, "transition rejected",
		slog.String("trade_id", cur.ID),
		slog.String("from", string(cur.State)),
		slog.String("to", string(req.Target)),
		slog.String("error", terr.Error()),
	)
}

func (k *Kernel) fail(cur domain.Trade, req TransitionRequest, kind, cause error, reason string) *domain.TransitionError {
	return &domain.TransitionError{
		TradeID: cur.ID,
		From:    cur.State,
		To:      req.Target,
		Kind:    kind,
		Cause:   cause,
		Reason:  reason,
	}
}

func (k *Kernel) consensusFailure(cur domain.Trade, req TransitionRequest, err error) *domain.TransitionError {
	switch {
	case errors.Is(err, domain.ErrConsensusConsumed):
		return k.fail(cur, req, domain.ErrPrecondition, domain.ErrConsensusConsumed, "funds release already used this consensus")
	default:
		return k.fail(cur, req, domain.ErrPrecondition, domain.ErrConsensusNotReached, "")
	}
}

func exposesFunds(to domain.TradeState) bool {
	return to == domain.StateEscrowFunded || to == domain.StateSettled
}
