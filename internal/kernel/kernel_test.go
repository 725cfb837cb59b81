package kernel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/store/memory"
	"github.com/alanyoungcy/tradekernel/internal/trust"
)

var (
	buyer     = domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	supplier  = domain.Actor{ID: "supplier-1", Role: domain.RoleSeller}
	logistics = domain.Actor{ID: "carrier-1", Role: domain.RoleLogistics}
	admin     = domain.Actor{ID: "ops-1", Role: domain.RoleAdmin}
	system    = domain.Actor{ID: "payments", Role: domain.RoleSystem}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestKernel(db *memory.DB, deps Deps) *Kernel {
	if deps.Trades == nil {
		deps.Trades = db.Trades()
	}
	deps.Consensus = db.Consensus()
	return New(DefaultConfig(), deps, discardLogger())
}

func newDraft(t *testing.T, k *Kernel) domain.Trade {
	t.Helper()
	tr, err := k.CreateTrade(context.Background(), buyer, CreateTradeRequest{
		Title:       "Cocoa beans",
		Description: "Grade A fermented cocoa",
		Quantity:    20,
		Unit:        "t",
		Currency:    "usd",
		Origin:      "gh",
		Destination: "nl",
	})
	require.NoError(t, err)
	return tr
}

func move(t *testing.T, k *Kernel, id string, actor domain.Actor, p domain.TransitionPayload) TransitionResult {
	t.Helper()
	res, err := k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: id, Target: p.Target(), Payload: p, Actor: actor,
	})
	require.NoError(t, err)
	return res
}

// advanceTo drives a fresh trade along the happy path until it reaches to.
func advanceTo(t *testing.T, k *Kernel, to domain.TradeState) domain.Trade {
	t.Helper()
	ctx := context.Background()
	tr := newDraft(t, k)
	if to == domain.StateDraft {
		return tr
	}
	tr = move(t, k, tr.ID, buyer, domain.PublishRFQ{}).Trade
	if to == domain.StateRFQOpen {
		return tr
	}
	q, err := k.SubmitQuote(ctx, supplier, tr.ID, QuoteRequest{UnitPrice: 2500, LeadTimeDays: 30, Terms: "FOB Tema"})
	require.NoError(t, err)
	tr = move(t, k, tr.ID, buyer, domain.MarkQuoted{}).Trade
	if to == domain.StateQuoted {
		return tr
	}
	tr = move(t, k, tr.ID, buyer, domain.SelectQuote{QuoteID: q.ID}).Trade
	if to == domain.StateContracted {
		return tr
	}
	tr = move(t, k, tr.ID, system, domain.ConfirmEscrow{PaymentRef: "pay-1", Amount: tr.TotalAmount}).Trade
	if to == domain.StateEscrowFunded {
		return tr
	}
	tr = move(t, k, tr.ID, supplier, domain.Dispatch{ShipmentRef: "bl-77"}).Trade
	if to == domain.StateInTransit {
		return tr
	}
	tr = move(t, k, tr.ID, logistics, domain.ConfirmDelivery{DeliveryRef: "pod-9"}).Trade
	require.Equal(t, domain.StateDelivered, tr.State)
	return tr
}

func sign(t *testing.T, db *memory.DB, tradeID string, p domain.Party) {
	t.Helper()
	applied, err := db.Consensus().Sign(context.Background(),
		domain.Signature{ID: string(p), TradeID: tradeID, Party: p, SignerID: string(p), SignedAt: time.Now()},
		domain.TradeEvent{ID: "sig-" + string(p), TradeID: tradeID, Type: domain.EventConsensusSigned, CreatedAt: time.Now()},
	)
	require.NoError(t, err)
	require.True(t, applied)
}

func countEvents(events []domain.TradeEvent, typ domain.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestHappyPathProducesValidHistory(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	db := memory.New()
	k := newTestKernel(db, Deps{})

	tr := advanceTo(t, k, domain.StateDelivered)
	require.Equal("supplier-1", tr.SellerID)
	require.Equal(2500.0, tr.UnitPrice)
	require.Equal(50000.0, tr.TotalAmount)
	require.Equal("FOB Tema", tr.Terms)
	require.NotNil(tr.ContractedAt)
	require.Equal(int64(7), tr.Version)

	for _, p := range domain.RequiredParties {
		sign(t, db, tr.ID, p)
	}
	res := move(t, k, tr.ID, buyer, domain.Settle{})
	require.Equal(domain.StateSettled, res.Trade.State)
	require.NotNil(res.Trade.SettledAt)
	require.NotNil(res.Risk)
	require.False(res.Risk.HighRisk)

	events, err := k.ListEvents(ctx, tr.ID, domain.ListOpts{})
	require.NoError(err)
	require.NoError(ValidateHistory(events))
	require.Equal(1, countEvents(events, domain.TransitionEventType(domain.StateSettled)))

	rec, err := db.Consensus().Get(ctx, tr.ID)
	require.NoError(err)
	require.NotNil(rec.ConsumedAt)

	allowed, err := k.AllowedTransitions(ctx, tr.ID)
	require.NoError(err)
	require.Empty(allowed)
}

func TestPublishRequiresCompleteRFQ(t *testing.T) {
	require := require.New(t)
	k := newTestKernel(memory.New(), Deps{})

	tr, err := k.CreateTrade(context.Background(), buyer, CreateTradeRequest{Title: "Steel coil"})
	require.NoError(err)

	_, err = k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: tr.ID, Target: domain.StateRFQOpen, Payload: domain.PublishRFQ{}, Actor: buyer,
	})
	require.ErrorIs(err, domain.ErrValidation)
	require.ErrorContains(err, "description")
	require.ErrorContains(err, "quantity")
}

func TestQuotedWithoutQuotesFails(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateRFQOpen)

	_, err := k.TransitionTrade(ctx, TransitionRequest{
		TradeID: tr.ID, Target: domain.StateQuoted, Payload: domain.MarkQuoted{}, Actor: buyer,
	})
	require.ErrorIs(err, domain.ErrNoQuotes)
	require.ErrorIs(err, domain.ErrPrecondition)

	cur, err := k.GetTrade(ctx, tr.ID)
	require.NoError(err)
	require.Equal(domain.StateRFQOpen, cur.State)
	require.Equal(tr.Version, cur.Version)

	events, err := k.ListEvents(ctx, tr.ID, domain.ListOpts{})
	require.NoError(err)
	require.Equal(0, countEvents(events, domain.TransitionEventType(domain.StateQuoted)))
	require.Equal(1, countEvents(events, domain.EventTransitionRejected))
}

func TestIllegalEdgeIsValidationError(t *testing.T) {
	require := require.New(t)
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateContracted)

	_, err := k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: tr.ID, Target: domain.StateSettled, Payload: domain.Settle{}, Actor: buyer,
	})
	require.ErrorIs(err, domain.ErrValidation)
	require.ErrorIs(err, domain.ErrIllegalTransition)
}

func TestPayloadMustMatchTarget(t *testing.T) {
	k := newTestKernel(memory.New(), Deps{})
	tr := newDraft(t, k)

	_, err := k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: tr.ID, Target: domain.StateRFQOpen, Payload: domain.Cancel{}, Actor: buyer,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestEscrowRequiresPaymentReference(t *testing.T) {
	require := require.New(t)
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateContracted)

	_, err := k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: tr.ID, Target: domain.StateEscrowFunded, Payload: domain.ConfirmEscrow{}, Actor: system,
	})
	require.ErrorIs(err, domain.ErrPaymentUnconfirmed)
	require.ErrorIs(err, domain.ErrPrecondition)
}

func TestSelectQuoteRejectsForeignQuote(t *testing.T) {
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateQuoted)

	_, err := k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: tr.ID, Target: domain.StateContracted, Payload: domain.SelectQuote{QuoteID: "nope"}, Actor: buyer,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSettleRequiresAllThreeSignatures(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	db := memory.New()
	k := newTestKernel(db, Deps{})
	tr := advanceTo(t, k, domain.StateDelivered)

	sign(t, db, tr.ID, domain.PartyBuyer)
	sign(t, db, tr.ID, domain.PartyLogistics)

	settle := TransitionRequest{TradeID: tr.ID, Target: domain.StateSettled, Payload: domain.Settle{}, Actor: buyer}
	_, err := k.TransitionTrade(ctx, settle)
	require.ErrorIs(err, domain.ErrConsensusNotReached)
	require.Equal(domain.ErrConsensusNotReached, domain.Category(err))

	sign(t, db, tr.ID, domain.PartyInspection)
	res, err := k.TransitionTrade(ctx, settle)
	require.NoError(err)
	require.Equal(domain.StateSettled, res.Trade.State)

	events, err := k.ListEvents(ctx, tr.ID, domain.ListOpts{})
	require.NoError(err)
	require.Equal(1, countEvents(events, domain.TransitionEventType(domain.StateSettled)))
}

func TestConsensusOpensOnlyOnDelivery(t *testing.T) {
	require := require.New(t)
	db := memory.New()
	k := newTestKernel(db, Deps{})
	tr := advanceTo(t, k, domain.StateInTransit)

	_, err := k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: tr.ID, Target: domain.StateSettled, Payload: domain.Settle{}, Actor: buyer,
	})
	// in_transit -> settled is not an edge at all.
	require.ErrorIs(err, domain.ErrIllegalTransition)

	_, err = db.Consensus().Get(context.Background(), tr.ID)
	require.ErrorIs(err, domain.ErrNotFound)
}

// barrierStore holds every GetByID until n readers have arrived, so the
// callers all plan from the same version.
type barrierStore struct {
	*memory.TradeStore
	arrived sync.WaitGroup
	armed   atomic.Bool
}

func (s *barrierStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	t, err := s.TradeStore.GetByID(ctx, id)
	if s.armed.Load() {
		s.arrived.Done()
		s.arrived.Wait()
	}
	return t, err
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	db := memory.New()
	store := &barrierStore{TradeStore: db.Trades()}
	k := newTestKernel(db, Deps{Trades: store})
	tr := advanceTo(t, k, domain.StateContracted)

	store.arrived.Add(2)
	store.armed.Store(true)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = k.TransitionTrade(ctx, TransitionRequest{
				TradeID: tr.ID,
				Target:  domain.StateEscrowFunded,
				Payload: domain.ConfirmEscrow{PaymentRef: "pay-" + string(rune('a'+i))},
				Actor:   system,
			})
		}()
	}
	wg.Wait()
	store.armed.Store(false)

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(1, ok)
	require.Equal(1, conflicts)

	cur, err := k.GetTrade(ctx, tr.ID)
	require.NoError(err)
	require.Equal(domain.StateEscrowFunded, cur.State)
	require.Equal(tr.Version+1, cur.Version)

	events, err := k.ListEvents(ctx, tr.ID, domain.ListOpts{})
	require.NoError(err)
	require.Equal(1, countEvents(events, domain.TransitionEventType(domain.StateEscrowFunded)))
}

func TestIdempotentRetryReplays(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateContracted)

	req := TransitionRequest{
		TradeID:        tr.ID,
		Target:         domain.StateEscrowFunded,
		Payload:        domain.ConfirmEscrow{PaymentRef: "pay-1"},
		Actor:          system,
		IdempotencyKey: "escrow-once",
	}
	first, err := k.TransitionTrade(ctx, req)
	require.NoError(err)
	require.False(first.Replayed)

	second, err := k.TransitionTrade(ctx, req)
	require.NoError(err)
	require.True(second.Replayed)
	require.Equal(first.Event.ID, second.Event.ID)
	require.Equal(first.Trade.Version, second.Trade.Version)

	events, err := k.ListEvents(ctx, tr.ID, domain.ListOpts{})
	require.NoError(err)
	require.Equal(1, countEvents(events, domain.TransitionEventType(domain.StateEscrowFunded)))

	req.Target = domain.StateInTransit
	req.Payload = domain.Dispatch{ShipmentRef: "bl-1"}
	_, err = k.TransitionTrade(ctx, req)
	require.ErrorIs(err, domain.ErrValidation)
}

func TestRejectedAttemptDoesNotBurnIdempotencyKey(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateContracted)

	req := TransitionRequest{
		TradeID: tr.ID, Target: domain.StateEscrowFunded,
		Payload: domain.ConfirmEscrow{}, Actor: system, IdempotencyKey: "k1",
	}
	_, err := k.TransitionTrade(ctx, req)
	require.ErrorIs(err, domain.ErrPaymentUnconfirmed)

	req.Payload = domain.ConfirmEscrow{PaymentRef: "pay-1"}
	res, err := k.TransitionTrade(ctx, req)
	require.NoError(err)
	require.False(res.Replayed)
	require.Equal(domain.StateEscrowFunded, res.Trade.State)
}

func TestLowTrustFlagsButApplies(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	db := memory.New()
	// Neither counterparty is known, so both score as unrated.
	scorer := trust.NewEngine(db.Counterparties(), db.Trust(), discardLogger())
	k := newTestKernel(db, Deps{Trust: scorer})
	tr := advanceTo(t, k, domain.StateContracted)

	res, err := k.TransitionTrade(ctx, TransitionRequest{
		TradeID: tr.ID, Target: domain.StateEscrowFunded,
		Payload: domain.ConfirmEscrow{PaymentRef: "pay-1"}, Actor: system,
	})
	require.NoError(err)
	require.Equal(domain.StateEscrowFunded, res.Trade.State)
	require.NotNil(res.Risk)
	require.True(res.Risk.HighRisk)
	require.Len(res.Risk.Reasons, 2)
	require.Contains(res.Risk.Trust, "buyer-1")
	require.Contains(res.Risk.Trust, "supplier-1")

	events, err := k.ListEvents(ctx, tr.ID, domain.ListOpts{})
	require.NoError(err)
	require.Equal(1, countEvents(events, domain.EventHighRiskTransition))
	require.NoError(ValidateHistory(events))
}

type fastActor struct{ score float64 }

func (f fastActor) CheckVelocity(context.Context, string, string) domain.RiskCheck {
	return domain.RiskCheck{Flagged: true, RiskLevel: domain.RiskHigh, RiskScore: f.score}
}

func (fastActor) RecordAction(context.Context, string, string) error { return nil }

func TestVelocityAboveCeilingFlags(t *testing.T) {
	require := require.New(t)
	db := memory.New()
	k := newTestKernel(db, Deps{Velocity: fastActor{score: 85}})
	tr := advanceTo(t, k, domain.StateContracted)

	res, err := k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: tr.ID, Target: domain.StateEscrowFunded,
		Payload: domain.ConfirmEscrow{PaymentRef: "pay-1"}, Actor: system,
	})
	require.NoError(err)
	require.True(res.Risk.HighRisk)
	require.Len(res.Risk.Reasons, 1)
	require.Contains(res.Risk.Reasons[0], "velocity")
}

type brokenCorridor struct{}

func (brokenCorridor) EstimateDeliveryConfidence(context.Context, string, string, string) (domain.DeliveryEstimate, error) {
	return domain.DeliveryEstimate{}, errors.New("reference data offline")
}

func TestFailedConsultDegradesWithoutFlag(t *testing.T) {
	require := require.New(t)
	k := newTestKernel(memory.New(), Deps{Corridor: brokenCorridor{}})
	tr := advanceTo(t, k, domain.StateContracted)

	res, err := k.TransitionTrade(context.Background(), TransitionRequest{
		TradeID: tr.ID, Target: domain.StateEscrowFunded,
		Payload: domain.ConfirmEscrow{PaymentRef: "pay-1"}, Actor: system,
	})
	require.NoError(err)
	require.False(res.Risk.HighRisk)
	require.Equal([]string{"corridor"}, res.Risk.Degraded)
}

func TestDisputeAndResume(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateInTransit)

	res := move(t, k, tr.ID, buyer, domain.RaiseDispute{Reason: "seal broken"})
	require.Equal(domain.StateDisputed, res.Trade.State)
	require.Equal(domain.StateInTransit, res.Trade.DisputedFrom)

	allowed, err := k.AllowedTransitions(ctx, tr.ID)
	require.NoError(err)
	require.Equal([]domain.TradeState{domain.StateInTransit, domain.StateRefunded, domain.StateCancelled}, allowed)

	// Forward progress is frozen while disputed.
	_, err = k.TransitionTrade(ctx, TransitionRequest{
		TradeID: tr.ID, Target: domain.StateDelivered, Payload: domain.ConfirmDelivery{DeliveryRef: "pod"}, Actor: logistics,
	})
	require.ErrorIs(err, domain.ErrIllegalTransition)

	resume := domain.NewResolveDispute(domain.StateInTransit, "inspection found no damage")
	_, err = k.TransitionTrade(ctx, TransitionRequest{TradeID: tr.ID, Target: domain.StateInTransit, Payload: resume, Actor: buyer})
	require.ErrorIs(err, domain.ErrForbidden)

	res = move(t, k, tr.ID, admin, resume)
	require.Equal(domain.StateInTransit, res.Trade.State)
	require.Empty(res.Trade.DisputedFrom)

	res = move(t, k, tr.ID, logistics, domain.ConfirmDelivery{DeliveryRef: "pod-1"})
	require.Equal(domain.StateDelivered, res.Trade.State)

	events, err := k.ListEvents(ctx, tr.ID, domain.ListOpts{})
	require.NoError(err)
	require.NoError(ValidateHistory(events))
}

func TestTransitionOriginFollowsAppliedKey(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateRFQOpen)

	from, err := k.TransitionOrigin(ctx, tr.ID, "d-1")
	require.NoError(err)
	require.Equal(domain.StateRFQOpen, from)

	_, err = k.TransitionTrade(ctx, TransitionRequest{
		TradeID: tr.ID, Target: domain.StateDisputed, Payload: domain.RaiseDispute{Reason: "terms changed"},
		Actor: buyer, IdempotencyKey: "d-1",
	})
	require.NoError(err)

	from, err = k.TransitionOrigin(ctx, tr.ID, "d-1")
	require.NoError(err)
	require.Equal(domain.StateRFQOpen, from, "applied key keeps its origin")

	from, err = k.TransitionOrigin(ctx, tr.ID, "")
	require.NoError(err)
	require.Equal(domain.StateDisputed, from)

	_, err = k.TransitionOrigin(ctx, "missing", "d-1")
	require.ErrorIs(err, domain.ErrNotFound)
}

func TestDisputeToRefund(t *testing.T) {
	require := require.New(t)
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateEscrowFunded)

	move(t, k, tr.ID, supplier, domain.RaiseDispute{Reason: "buyer unreachable"})
	res := move(t, k, tr.ID, admin, domain.Refund{Reason: "agreed", RefundRef: "rf-1"})
	require.Equal(domain.StateRefunded, res.Trade.State)
	require.True(res.Trade.State.Terminal())
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(memory.New(), Deps{})
	tr := advanceTo(t, k, domain.StateContracted)

	stranger := domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}
	cases := []struct {
		name  string
		actor domain.Actor
		p     domain.TransitionPayload
		want  error
	}{
		{"other buyer disputes", stranger, domain.RaiseDispute{Reason: "x"}, domain.ErrForbidden},
		{"seller refunds", supplier, domain.Refund{Reason: "x"}, domain.ErrForbidden},
		{"missing actor", domain.Actor{}, domain.ConfirmEscrow{PaymentRef: "p"}, domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := k.TransitionTrade(ctx, TransitionRequest{
				TradeID: tr.ID, Target: tc.p.Target(), Payload: tc.p, Actor: tc.actor,
			})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSubmitQuote(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	k := newTestKernel(memory.New(), Deps{})

	draft := newDraft(t, k)
	_, err := k.SubmitQuote(ctx, supplier, draft.ID, QuoteRequest{UnitPrice: 10})
	require.ErrorIs(err, domain.ErrPrecondition)

	open := advanceTo(t, k, domain.StateRFQOpen)
	_, err = k.SubmitQuote(ctx, buyer, open.ID, QuoteRequest{UnitPrice: 10})
	require.ErrorIs(err, domain.ErrForbidden)
	_, err = k.SubmitQuote(ctx, domain.Actor{Role: domain.RoleSeller}, open.ID, QuoteRequest{UnitPrice: 10})
	require.ErrorIs(err, domain.ErrUnauthorized)
	_, err = k.SubmitQuote(ctx, supplier, open.ID, QuoteRequest{UnitPrice: 10, Currency: "EUR"})
	require.ErrorIs(err, domain.ErrValidation)

	q, err := k.SubmitQuote(ctx, supplier, open.ID, QuoteRequest{UnitPrice: 10})
	require.NoError(err)
	require.Equal("USD", q.Currency)

	cur, err := k.GetTrade(ctx, open.ID)
	require.NoError(err)
	require.Equal([]string{"supplier-1"}, cur.MatchedSupplierIDs)
}

type sinkFunc func(domain.Dossier) (string, error)

func (f sinkFunc) WriteDossier(_ context.Context, d domain.Dossier) (string, error) { return f(d) }

func TestExportDossier(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	db := memory.New()

	var got domain.Dossier
	k := newTestKernel(db, Deps{Dossiers: sinkFunc(func(d domain.Dossier) (string, error) {
		got = d
		return domain.DossierPath(d.Trade.ID), nil
	})})
	tr := advanceTo(t, k, domain.StateDelivered)

	path, err := k.ExportDossier(ctx, tr.ID)
	require.NoError(err)
	require.Equal("dossiers/"+tr.ID+".json", path)
	require.Equal(tr.ID, got.Trade.ID)
	require.Len(got.Quotes, 1)
	require.NotNil(got.Consensus)
	require.False(got.Consensus.ConsensusReached)
	require.NotEmpty(got.Events)

	none := newTestKernel(db, Deps{})
	_, err = none.ExportDossier(ctx, tr.ID)
	require.ErrorIs(err, ErrNoDossierSink)
}
