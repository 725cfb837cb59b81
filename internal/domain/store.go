package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TransitionWrite is everything one accepted transition persists. The store
// applies it atomically and only if the stored version equals
// ExpectedVersion.
type TransitionWrite struct {
	Trade            Trade // post-transition record, Version already advanced
	ExpectedVersion  int64
	Events           []TradeEvent
	OpenConsensus    bool
	ConsumeConsensus bool
}

// TradeStore persists trades, their quotes and their event log.
type TradeStore interface {
	Create(ctx context.Context, trade Trade, created TradeEvent) error
	GetByID(ctx context.Context, id string) (Trade, error)
	// ApplyTransition returns ErrConcurrentModification when the version
	// precondition fails and ErrAlreadyExists when an event's idempotency
	// key was already used for the trade.
	ApplyTransition(ctx context.Context, w TransitionWrite) error
	AppendEvent(ctx context.Context, ev TradeEvent) error
	ListEvents(ctx context.Context, tradeID string, opts ListOpts) ([]TradeEvent, error)
	FindEventByIdempotencyKey(ctx context.Context, tradeID, key string) (TradeEvent, error)

	// AddQuote fails with ErrPrecondition and ErrRFQClosed when the trade no
	// longer accepts quotes at the time of the write.
	AddQuote(ctx context.Context, q Quote, ev TradeEvent) error
	GetQuote(ctx context.Context, tradeID, quoteID string) (Quote, error)
	ListQuotes(ctx context.Context, tradeID string) ([]Quote, error)

	// ListIDsByState pages the ids of trades in state, oldest update first.
	// Since and Until bound updated_at.
	ListIDsByState(ctx context.Context, state TradeState, opts ListOpts) ([]string, error)
}

// ConsensusStore persists consensus records. Records are opened and consumed
// by TradeStore.ApplyTransition.
type ConsensusStore interface {
	Get(ctx context.Context, tradeID string) (ConsensusRecord, error)
	// Sign records sig and ev together unless the party already signed, in
	// which case nothing is written and applied is false.
	Sign(ctx context.Context, sig Signature, ev TradeEvent) (applied bool, err error)
}

// TrustStore persists computed trust scores.
type TrustStore interface {
	Get(ctx context.Context, counterpartyID string) (TrustScore, error)
	Upsert(ctx context.Context, score TrustScore) error
}

// CounterpartyStore reads the facts trust scoring is derived from.
type CounterpartyStore interface {
	GetFacts(ctx context.Context, counterpartyID string) (CounterpartyFacts, error)
	ListActiveIDs(ctx context.Context, opts ListOpts) ([]string, error)
}

// IdentityStore resolves contact details for identity consistency checks.
type IdentityStore interface {
	UserEmail(ctx context.Context, userID string) (string, error)
	CompanyEmail(ctx context.Context, companyID string) (string, error)
}

// FraudStore persists fraud findings.
type FraudStore interface {
	InsertFinding(ctx context.Context, f FraudFinding) error
	ListFindings(ctx context.Context, entityType, entityID string, opts ListOpts) ([]FraudFinding, error)
}

// CorridorStore reads corridor and supplier reliability reference data.
type CorridorStore interface {
	GetReliability(ctx context.Context, origin, destination string) (CorridorReliability, error)
	UpsertReliability(ctx context.Context, rec CorridorReliability) error
	SupplierReliability(ctx context.Context, supplierID string) (float64, error)
}
