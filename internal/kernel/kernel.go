// Package kernel is the trade lifecycle state machine. It validates and
// applies transitions, consults the trust, fraud and corridor engines before
// financial-exposure edges, and writes every accepted change together with
// its event in one atomic unit.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/eventbus"
	"github.com/alanyoungcy/tradekernel/internal/metrics"
)

// Config holds the advisory risk thresholds.
type Config struct {
	TrustFloor     int     // counterparty score below this flags the transition
	FraudCeiling   float64 // actor velocity risk above this flags the transition
	CorridorFloor  float64 // delivery confidence below this flags the transition
	VelocityAction string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		TrustFloor:     60,
		FraudCeiling:   70,
		CorridorFloor:  60,
		VelocityAction: "transition",
	}
}

// TrustScorer computes counterparty trust.
type TrustScorer interface {
	ComputeTrustScore(ctx context.Context, counterpartyID string) (domain.TrustScore, error)
}

// VelocityChecker assesses and records actor action velocity.
type VelocityChecker interface {
	CheckVelocity(ctx context.Context, actorID, actionType string) domain.RiskCheck
	RecordAction(ctx context.Context, actorID, actionType string) error
}

// DeliveryEstimator estimates corridor delivery confidence.
type DeliveryEstimator interface {
	EstimateDeliveryConfidence(ctx context.Context, origin, destination, supplierID string) (domain.DeliveryEstimate, error)
}

// Notifier is the fire-and-forget notification dispatcher.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// DossierSink stores a settlement dossier and returns where it was written.
type DossierSink interface {
	WriteDossier(ctx context.Context, d domain.Dossier) (string, error)
}

// Deps are the Kernel's collaborators. Everything except Trades and
// Consensus may be nil, in which case that concern is skipped.
type Deps struct {
	Trades    domain.TradeStore
	Consensus domain.ConsensusStore
	Trust     TrustScorer
	Velocity  VelocityChecker
	Corridor  DeliveryEstimator
	Publisher *eventbus.Publisher
	Notifier  Notifier
	Dossiers  DossierSink
	Metrics   *metrics.Metrics
}

// Kernel is the trade lifecycle service.
type Kernel struct {
	cfg       Config
	trades    domain.TradeStore
	consensus domain.ConsensusStore
	trust     TrustScorer
	velocity  VelocityChecker
	corridor  DeliveryEstimator
	publisher *eventbus.Publisher
	notifier  Notifier
	dossiers  DossierSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Kernel.
func New(cfg Config, deps Deps, logger *slog.Logger) *Kernel {
	if cfg.VelocityAction == "" {
		cfg.VelocityAction = DefaultConfig().VelocityAction
	}
	return &Kernel{
		cfg:       cfg,
		trades:    deps.Trades,
		consensus: deps.Consensus,
		trust:     deps.Trust,
		velocity:  deps.Velocity,
		corridor:  deps.Corridor,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		dossiers:  deps.Dossiers,
		metrics:   deps.Metrics,
		logger:    logger.With(slog.String("component", "kernel")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateTradeRequest opens a new trade in draft.
type CreateTradeRequest struct {
	BuyerID     string         `json:"buyer_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Quantity    float64        `json:"quantity"`
	Unit        string         `json:"unit"`
	Currency    string         `json:"currency"`
	Origin      string         `json:"origin"`
	Destination string         `json:"destination"`
	Metadata    map[string]any `json:"metadata"`
}

// CreateTrade records a draft trade. Completeness of the RFQ is checked
// when it is published, not here.
func (k *Kernel) CreateTrade(ctx context.Context, actor domain.Actor, req CreateTradeRequest) (domain.Trade, error) {
	buyer := strings.TrimSpace(req.BuyerID)
	if buyer == "" {
		buyer = actor.ID
	}
	if buyer == "" {
		return domain.Trade{}, fmt.Errorf("%w: buyer_id is required", domain.ErrValidation)
	}
	if actor.ID == "" {
		return domain.Trade{}, fmt.Errorf("%w: actor id is required", domain.ErrUnauthorized)
	}
	if actor.Role != domain.RoleAdmin && actor.ID != buyer {
		return domain.Trade{}, fmt.Errorf("%w: only the buyer may open a trade", domain.ErrForbidden)
	}
	if req.Quantity < 0 {
		return domain.Trade{}, fmt.Errorf("%w: quantity must not be negative", domain.ErrValidation)
	}

	now := k.now()
	t := domain.Trade{
		ID:                 uuid.NewString(),
		State:              domain.StateDraft,
		Version:            1,
		BuyerID:            buyer,
		Title:              strings.TrimSpace(req.Title),
		Description:        strings.TrimSpace(req.Description),
		Quantity:           req.Quantity,
		Unit:               req.Unit,
		Currency:           strings.ToUpper(req.Currency),
		Origin:             strings.ToUpper(req.Origin),
		Destination:        strings.ToUpper(req.Destination),
		MatchedSupplierIDs: []string{},
		Metadata:           req.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	ev := domain.TradeEvent{
		ID:        uuid.NewString(),
		TradeID:   t.ID,
		Type:      domain.EventTradeCreated,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		ToState:   domain.StateDraft,
		Payload: map[string]any{
			"title":    t.Title,
			"quantity": t.Quantity,
			"unit":     t.Unit,
			"currency": t.Currency,
		},
		CreatedAt: now,
	}
	if err := k.trades.Create(ctx, t, ev); err != nil {
		return domain.Trade{}, fmt.Errorf("kernel: create trade: %w", err)
	}

	k.logger.InfoContext(ctx, "trade created",
		slog.String("trade_id", t.ID),
		slog.String("buyer_id", t.BuyerID),
	)
	k.publisher.Publish(ctx, ev)
	return t, nil
}

// QuoteRequest is a supplier's offer.
type QuoteRequest struct {
	UnitPrice    float64 `json:"unit_price"`
	Currency     string  `json:"currency"`
	LeadTimeDays int     `json:"lead_time_days"`
	Terms        string  `json:"terms"`
}

// SubmitQuote records a supplier quote against an open RFQ and adds the
// supplier to the trade's matched set.
func (k *Kernel) SubmitQuote(ctx context.Context, actor domain.Actor, tradeID string, req QuoteRequest) (domain.Quote, error) {
	if actor.ID == "" {
		return domain.Quote{}, fmt.Errorf("%w: actor id is required", domain.ErrUnauthorized)
	}
	if actor.Role != domain.RoleSeller && actor.Role != domain.RoleAdmin {
		return domain.Quote{}, fmt.Errorf("%w: quotes are submitted by suppliers", domain.ErrForbidden)
	}
	if req.UnitPrice <= 0 {
		return domain.Quote{}, fmt.Errorf("%w: unit_price must be positive", domain.ErrValidation)
	}
	if req.LeadTimeDays < 0 {
		return domain.Quote{}, fmt.Errorf("%w: lead_time_days must not be negative", domain.ErrValidation)
	}

	t, err := k.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Quote{}, err
	}
	if !t.State.AcceptsQuotes() {
		return domain.Quote{}, fmt.Errorf("%w: %w: trade %s is %s", domain.ErrPrecondition, domain.ErrRFQClosed, t.ID, t.State)
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = t.Currency
	}
	if t.Currency != "" && currency != t.Currency {
		return domain.Quote{}, fmt.Errorf("%w: quote currency %s does not match trade currency %s", domain.ErrValidation, currency, t.Currency)
	}

	now := k.now()
	q := domain.Quote{
		ID:           uuid.NewString(),
		TradeID:      t.ID,
		SupplierID:   actor.ID,
		UnitPrice:    req.UnitPrice,
		Currency:     currency,
		LeadTimeDays: req.LeadTimeDays,
		Terms:        req.Terms,
		CreatedAt:    now,
	}
	ev := domain.TradeEvent{
		ID:        uuid.NewString(),
		TradeID:   t.ID,
		Type:      domain.EventQuoteSubmitted,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Payload: map[string]any{
			"quote_id":       q.ID,
			"unit_price":     q.UnitPrice,
			"currency":       q.Currency,
			"lead_time_days": q.LeadTimeDays,
		},
		CreatedAt: now,
	}
	if err := k.trades.AddQuote(ctx, q, ev); err != nil {
		return domain.Quote{}, fmt.Errorf("kernel: add quote: %w", err)
	}

	k.recordAction(ctx, actor.ID, "quote")
	k.publisher.Publish(ctx, ev)
	return q, nil
}

// GetTrade returns a trade.
func (k *Kernel) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	return k.trades.GetByID(ctx, id)
}

// ListEvents returns a trade's events in write order.
func (k *Kernel) ListEvents(ctx context.Context, tradeID string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	if _, err := k.trades.GetByID(ctx, tradeID); err != nil {
		return nil, err
	}
	return k.trades.ListEvents(ctx, tradeID, opts)
}

// ListQuotes returns a trade's quotes.
func (k *Kernel) ListQuotes(ctx context.Context, tradeID string) ([]domain.Quote, error) {
	return k.trades.ListQuotes(ctx, tradeID)
}

// AllowedTransitions lists the states the trade can currently move to.
func (k *Kernel) AllowedTransitions(ctx context.Context, tradeID string) ([]domain.TradeState, error) {
	t, err := k.trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	return AllowedTargets(t.State, t.DisputedFrom), nil
}

func (k *Kernel) recordAction(ctx context.Context, actorID, action string) {
	if k.velocity == nil || actorID == "" {
		return
	}
	if err := k.velocity.RecordAction(ctx, actorID, action); err != nil {
		k.logger.WarnContext(ctx, "velocity record failed",
			slog.String("actor_id", actorID),
			slog.String("error", err.Error()),
		)
	}
}

func (k *Kernel) notify(event, title, message string) {
	if k.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := k.notifier.Notify(ctx, event, title, message); err != nil {
			k.logger.Warn("notification failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}
