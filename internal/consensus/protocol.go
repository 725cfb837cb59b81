// Package consensus collects independent party approvals that gate the
// release of escrowed funds.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/tradekernel/internal/crypto"
	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/eventbus"
	"github.com/alanyoungcy/tradekernel/internal/metrics"
)

// Config controls attestation checks on signatures.
type Config struct {
	// AttestationRequired parties must attach a valid attestation.
	AttestationRequired []domain.Party
	// Attestors restricts which addresses may attest for a party. A party
	// with no entry accepts any recoverable attestation.
	Attestors map[domain.Party][]common.Address
}

// Notifier is the fire-and-forget notification dispatcher.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// TradeReader looks up trades.
type TradeReader interface {
	GetByID(ctx context.Context, id string) (domain.Trade, error)
	AppendEvent(ctx context.Context, ev domain.TradeEvent) error
}

// Protocol implements signing, checking and requesting consensus.
type Protocol struct {
	cfg       Config
	trades    TradeReader
	store     domain.ConsensusStore
	publisher *eventbus.Publisher
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Deps are the Protocol's collaborators. Publisher, Notifier and Metrics may
// be nil.
type Deps struct {
	Trades    TradeReader
	Store     domain.ConsensusStore
	Publisher *eventbus.Publisher
	Notifier  Notifier
	Metrics   *metrics.Metrics
}

// New creates a Protocol.
func New(cfg Config, deps Deps, logger *slog.Logger) *Protocol {
	return &Protocol{
		cfg:       cfg,
		trades:    deps.Trades,
		store:     deps.Store,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    logger.With(slog.String("component", "consensus")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SignRequest is one party's approval. Actor is the authenticated caller;
// SignerID defaults to it and may differ only for admin and system actors.
type SignRequest struct {
	TradeID     string       `json:"trade_id"`
	Party       domain.Party `json:"party"`
	SignerID    string       `json:"signer_id"`
	Attestation string       `json:"attestation,omitempty"`
	Actor       domain.Actor `json:"-"`
}

// SignResult reports whether the signature was new and the resulting status.
type SignResult struct {
	Applied bool                   `json:"applied"`
	Status  domain.ConsensusStatus `json:"status"`
}

// Sign records req.Party's approval. Signing an already-signed party is a
// no-op that returns Applied=false.
func (p *Protocol) Sign(ctx context.Context, req SignRequest) (SignResult, error) {
	if !req.Party.Valid() {
		return SignResult{}, fmt.Errorf("%w: unknown party %q", domain.ErrValidation, req.Party)
	}
	req.SignerID = strings.TrimSpace(req.SignerID)
	if req.SignerID == "" {
		req.SignerID = req.Actor.ID
	}
	if req.SignerID == "" {
		return SignResult{}, fmt.Errorf("%w: signer_id is required", domain.ErrValidation)
	}

	trade, err := p.trades.GetByID(ctx, req.TradeID)
	if err != nil {
		return SignResult{}, err
	}
	if err := authorizeSigner(trade, req); err != nil {
		return SignResult{}, err
	}
	if err := p.verifyAttestation(req); err != nil {
		return SignResult{}, err
	}

	now := p.now()
	sig := domain.Signature{
		ID:          uuid.NewString(),
		TradeID:     req.TradeID,
		Party:       req.Party,
		SignerID:    req.SignerID,
		Attestation: req.Attestation,
		SignedAt:    now,
	}
	ev := domain.TradeEvent{
		ID:        uuid.NewString(),
		TradeID:   req.TradeID,
		Type:      domain.EventConsensusSigned,
		ActorID:   req.SignerID,
		ActorRole: roleFor(req.Party),
		Payload: map[string]any{
			"party":        string(req.Party),
			"signature_id": sig.ID,
			"attested":     req.Attestation != "",
		},
		CreatedAt: now,
	}
	if req.Actor.ID != req.SignerID {
		ev.Payload["recorded_by"] = req.Actor.ID
	}

	applied, err := p.store.Sign(ctx, sig, ev)
	if errors.Is(err, domain.ErrNotFound) {
		return SignResult{}, fmt.Errorf("%w: %w: trade %s is %s", domain.ErrPrecondition, domain.ErrConsensusNotOpen, req.TradeID, trade.State)
	}
	if err != nil {
		return SignResult{}, fmt.Errorf("consensus: sign %s/%s: %w", req.TradeID, req.Party, err)
	}
	p.metrics.ConsensusSign(string(req.Party), applied)

	rec, err := p.store.Get(ctx, req.TradeID)
	if err != nil {
		return SignResult{}, fmt.Errorf("consensus: reload %s: %w", req.TradeID, err)
	}
	status := rec.Status()

	if applied {
		p.logger.InfoContext(ctx, "consensus signed",
			slog.String("trade_id", req.TradeID),
			slog.String("party", string(req.Party)),
			slog.Bool("reached", status.ConsensusReached),
		)
		p.publisher.Publish(ctx, ev)
		if status.ConsensusReached {
			p.notify("consensus_reached", "Consensus reached",
				fmt.Sprintf("Trade %s has every required signature and can settle.", req.TradeID))
		}
	}
	return SignResult{Applied: applied, Status: status}, nil
}

// Check returns the consensus status. A trade that has not reached pending
// settlement reports every flag false.
func (p *Protocol) Check(ctx context.Context, tradeID string) (domain.ConsensusStatus, error) {
	rec, err := p.store.Get(ctx, tradeID)
	if errors.Is(err, domain.ErrNotFound) {
		if _, err := p.trades.GetByID(ctx, tradeID); err != nil {
			return domain.ConsensusStatus{}, err
		}
		return domain.ConsensusRecord{TradeID: tradeID}.Status(), nil
	}
	if err != nil {
		return domain.ConsensusStatus{}, fmt.Errorf("consensus: get %s: %w", tradeID, err)
	}
	return rec.Status(), nil
}

// RequestConsensus asks party to sign. It records the ask and notifies, but
// never signs on the party's behalf.
func (p *Protocol) RequestConsensus(ctx context.Context, tradeID string, party domain.Party, requester domain.Actor) (bool, error) {
	if !party.Valid() {
		return false, fmt.Errorf("%w: unknown party %q", domain.ErrValidation, party)
	}
	if _, err := p.trades.GetByID(ctx, tradeID); err != nil {
		return false, err
	}

	ev := domain.TradeEvent{
		ID:        uuid.NewString(),
		TradeID:   tradeID,
		Type:      domain.EventConsensusRequested,
		ActorID:   requester.ID,
		ActorRole: requester.Role,
		Payload:   map[string]any{"party": string(party)},
		CreatedAt: p.now(),
	}
	if err := p.trades.AppendEvent(ctx, ev); err != nil {
		return false, fmt.Errorf("consensus: record request %s: %w", tradeID, err)
	}
	p.publisher.Publish(ctx, ev)
	p.notify("consensus_requested", "Signature requested",
		fmt.Sprintf("Trade %s is waiting for the %s signature.", tradeID, party))
	return true, nil
}

func (p *Protocol) verifyAttestation(req SignRequest) error {
	if req.Attestation == "" {
		if slices.Contains(p.cfg.AttestationRequired, req.Party) {
			return fmt.Errorf("%w: %s signature requires an attestation", domain.ErrValidation, req.Party)
		}
		return nil
	}
	addr, err := crypto.RecoverAttestor(req.TradeID, string(req.Party), req.Attestation)
	if err != nil {
		return fmt.Errorf("%w: attestation: %s", domain.ErrValidation, err.Error())
	}
	allowed, ok := p.cfg.Attestors[req.Party]
	if ok && !slices.Contains(allowed, addr) {
		return fmt.Errorf("%w: attestation signer %s not allowed for %s", domain.ErrForbidden, addr.Hex(), req.Party)
	}
	return nil
}

func (p *Protocol) notify(event, title, message string) {
	if p.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.notifier.Notify(ctx, event, title, message); err != nil {
			p.logger.Warn("consensus notification failed", slog.String("error", err.Error()))
		}
	}()
}

// authorizeSigner binds a signature to the caller. A party signs with its
// own role and identity: buyer and seller must be the trade's parties,
// logistics and inspection callers hold the matching role. Admin and system
// actors may record a signature for a named signer.
func authorizeSigner(t domain.Trade, req SignRequest) error {
	a := req.Actor
	if a.ID == "" || a.Role == "" {
		return fmt.Errorf("%w: actor id and role are required", domain.ErrUnauthorized)
	}
	switch a.Role {
	case domain.RoleAdmin, domain.RoleSystem:
	case roleFor(req.Party):
		if req.SignerID != a.ID {
			return fmt.Errorf("%w: %s may not sign as %s", domain.ErrForbidden, a.ID, req.SignerID)
		}
	default:
		return fmt.Errorf("%w: role %s may not sign for %s", domain.ErrForbidden, a.Role, req.Party)
	}

	switch req.Party {
	case domain.PartyBuyer:
		if req.SignerID != t.BuyerID {
			return fmt.Errorf("%w: %s is not the buyer of %s", domain.ErrForbidden, req.SignerID, t.ID)
		}
	case domain.PartySeller:
		if t.SellerID == "" || req.SignerID != t.SellerID {
			return fmt.Errorf("%w: %s is not the seller of %s", domain.ErrForbidden, req.SignerID, t.ID)
		}
	}
	return nil
}

func roleFor(p domain.Party) domain.Role {
	switch p {
	case domain.PartyInspection:
		return domain.RoleInspection
	case domain.PartyLogistics:
		return domain.RoleLogistics
	case domain.PartySeller:
		return domain.RoleSeller
	default:
		return domain.RoleBuyer
	}
}
