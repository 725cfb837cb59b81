package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/consensus"
	"github.com/alanyoungcy/tradekernel/internal/corridor"
	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/fraud"
	"github.com/alanyoungcy/tradekernel/internal/kernel"
	"github.com/alanyoungcy/tradekernel/internal/server/handler"
	"github.com/alanyoungcy/tradekernel/internal/store/memory"
	"github.com/alanyoungcy/tradekernel/internal/trust"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestAPI(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	log := discard()
	db := memory.New()
	trustEngine := trust.NewEngine(db.Counterparties(), db.Trust(), log)
	fraudEngine := fraud.NewEngine(fraud.DefaultConfig(), fraud.Deps{
		Identities: db.Counterparties(),
		Actions:    memory.NewActionLog(),
		Findings:   db.Fraud(),
		Events:     db.Trades(),
	}, log)
	estimator := corridor.NewEstimator(db.Corridors(), log)
	k := kernel.New(kernel.DefaultConfig(), kernel.Deps{
		Trades:    db.Trades(),
		Consensus: db.Consensus(),
		Trust:     trustEngine,
		Velocity:  fraudEngine,
		Corridor:  estimator,
	}, log)
	protocol := consensus.New(consensus.Config{}, consensus.Deps{
		Trades: db.Trades(),
		Store:  db.Consensus(),
	}, log)

	return Routes(cfg, Handlers{
		Health:    handler.NewHealthHandler("server", nil, log),
		Trades:    handler.NewTradeHandler(k, nil, log),
		Consensus: handler.NewConsensusHandler(protocol, nil, log),
		Trust:     handler.NewTrustHandler(trustEngine, log),
		Fraud:     handler.NewFraudHandler(fraudEngine, log),
		Corridors: handler.NewCorridorHandler(estimator, log),
	}, nil, memory.NewRateLimiter(), log)
}

type call struct {
	method, path string
	body         any
	actor        domain.Actor
	apiKey       string
}

func do(t *testing.T, h http.Handler, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequestWithContext(context.Background(), c.method, c.path, body)
	if c.actor.ID != "" {
		req.Header.Set(handler.HeaderActorID, c.actor.ID)
		req.Header.Set(handler.HeaderActorRole, string(c.actor.Role))
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

var (
	buyer    = domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	supplier = domain.Actor{ID: "supplier-1", Role: domain.RoleSeller}
)

func TestTradeLifecycleOverHTTP(t *testing.T) {
	h := newTestAPI(t, Config{})

	rec, created := do(t, h, call{method: http.MethodPost, path: "/api/trades", actor: buyer, body: map[string]any{
		"title": "Copper cathode", "description": "LME grade A", "quantity": 25, "unit": "t",
		"currency": "usd", "origin": "cl", "destination": "cn",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := created["id"].(string)
	assert.Equal(t, "draft", created["state"])

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "rfq_open"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, out := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "quoted"}})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "precondition_not_met", out["category"])

	rec, quote := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/quotes", actor: supplier,
		body: map[string]any{"unit_price": 9100, "lead_time_days": 40}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "quoted"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, res := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "contracted", "payload": map[string]any{"quote_id": quote["id"]}, "idempotency_key": "k-1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, res["replayed"])

	rec, res = do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "contracted", "payload": map[string]any{"quote_id": quote["id"]}, "idempotency_key": "k-1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, res["replayed"])

	rec, got := do(t, h, call{method: http.MethodGet, path: "/api/trades/" + id})
	require.Equal(t, http.StatusOK, rec.Code)
	trade := got["trade"].(map[string]any)
	assert.Equal(t, "contracted", trade["state"])
	assert.Equal(t, "supplier-1", trade["seller_id"])
	assert.ElementsMatch(t, []any{"escrow_funded", "disputed", "refunded", "cancelled"}, got["allowed_transitions"])

	rec, events := do(t, h, call{method: http.MethodGet, path: "/api/trades/" + id + "/events"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, events["events"])
}

func TestTransitionErrorsMapToStatus(t *testing.T) {
	h := newTestAPI(t, Config{})
	_, created := do(t, h, call{method: http.MethodPost, path: "/api/trades", actor: buyer, body: map[string]any{"title": "x"}})
	id := created["id"].(string)

	rec, out := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "settled"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", out["category"])
	assert.Equal(t, "draft", out["from"])
	assert.Equal(t, "settled", out["to"])

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "teleported"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "rfq_open", "payload": map[string]any{"surprise": true}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodGet, path: "/api/trades/missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions",
		body: map[string]any{"target": "rfq_open"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConsensusStatusBeforeDelivery(t *testing.T) {
	h := newTestAPI(t, Config{})
	_, created := do(t, h, call{method: http.MethodPost, path: "/api/trades", actor: buyer, body: map[string]any{"title": "x"}})
	id := created["id"].(string)

	rec, st := do(t, h, call{method: http.MethodGet, path: "/api/trades/" + id + "/consensus"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, st["consensus_reached"])

	rec, out := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/consensus/sign", actor: buyer,
		body: map[string]any{"party": "buyer"}})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "precondition_not_met", out["category"])
}

func TestAuthAndPublicPaths(t *testing.T) {
	h := newTestAPI(t, Config{APIKeys: []string{"k1", "k2"}})

	rec, _ := do(t, h, call{method: http.MethodGet, path: "/api/health"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodGet, path: "/api/trades/x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodGet, path: "/api/trades/x", apiKey: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodGet, path: "/api/trades/x", apiKey: "k2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestAPI(t, Config{RateLimit: 2})
	for range 2 {
		rec, _ := do(t, h, call{method: http.MethodGet, path: "/api/health"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := do(t, h, call{method: http.MethodGet, path: "/api/health"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestAPI(t, Config{CORSOrigins: []string{"https://app.example.com"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/trades", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/trades", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestScoringEndpoints(t *testing.T) {
	h := newTestAPI(t, Config{})

	rec, health := do(t, h, call{method: http.MethodPost, path: "/api/corridors/score", body: map[string]any{}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 50.0, health["score"], 0.1)

	rec, est := do(t, h, call{method: http.MethodGet, path: "/api/corridors/estimate?origin=CN&destination=DE"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, est["risk_label"])
	assert.LessOrEqual(t, est["min_days"], est["max_days"])

	rec, _ = do(t, h, call{method: http.MethodGet, path: "/api/corridors/estimate?origin=CN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, doc := do(t, h, call{method: http.MethodPost, path: "/api/fraud/document",
		body: map[string]any{"url": "http://files.example.net/invoice.exe", "doc_type": "invoice"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, doc["flagged"])

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/fraud/threats", actor: buyer,
		body: map[string]any{"type": "doc_forgery", "entity_type": "company", "entity_id": "c1", "risk_score": 80}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, threats := do(t, h, call{method: http.MethodGet, path: "/api/fraud/threats?entity_type=company&entity_id=c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, threats["threats"], 1)

	rec, score := do(t, h, call{method: http.MethodGet, path: "/api/counterparties/nobody/trust"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unrated", score["tier"])
}

var (
	logisticsActor = domain.Actor{ID: "carrier-1", Role: domain.RoleLogistics}
	admin          = domain.Actor{ID: "ops-1", Role: domain.RoleAdmin}
)

func transition(t *testing.T, h http.Handler, id string, actor domain.Actor, body map[string]any) map[string]any {
	t.Helper()
	rec, out := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: actor, body: body})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return out
}

// deliveredTrade drives a fresh trade to delivered through the API.
func deliveredTrade(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, created := do(t, h, call{method: http.MethodPost, path: "/api/trades", actor: buyer, body: map[string]any{
		"title": "Cocoa beans", "description": "Grade I", "quantity": 12,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := created["id"].(string)

	transition(t, h, id, buyer, map[string]any{"target": "rfq_open"})
	rec, quote := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/quotes", actor: supplier,
		body: map[string]any{"unit_price": 3100, "lead_time_days": 20}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	transition(t, h, id, buyer, map[string]any{"target": "quoted"})
	transition(t, h, id, buyer, map[string]any{"target": "contracted", "payload": map[string]any{"quote_id": quote["id"]}})
	transition(t, h, id, buyer, map[string]any{"target": "escrow_funded", "payload": map[string]any{"payment_ref": "pay-1"}})
	transition(t, h, id, supplier, map[string]any{"target": "in_transit", "payload": map[string]any{"shipment_ref": "bl-1"}})
	transition(t, h, id, logisticsActor, map[string]any{"target": "delivered", "payload": map[string]any{"delivery_ref": "pod-1"}})
	return id
}

func TestConsensusSignIsBoundToCaller(t *testing.T) {
	h := newTestAPI(t, Config{})
	id := deliveredTrade(t, h)
	signPath := "/api/trades/" + id + "/consensus/sign"

	for _, party := range []string{"buyer", "logistics", "automated_inspection"} {
		rec, out := do(t, h, call{method: http.MethodPost, path: signPath, actor: supplier,
			body: map[string]any{"party": party, "signer_id": "buyer-1"}})
		assert.Equal(t, http.StatusForbidden, rec.Code, "seller signing as %s", party)
		assert.Equal(t, "forbidden", out["category"])
	}

	rec, _ := do(t, h, call{method: http.MethodPost, path: signPath, actor: logisticsActor,
		body: map[string]any{"party": "logistics", "signer_id": "carrier-9"}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "forged signer_id")

	rec, st := do(t, h, call{method: http.MethodGet, path: "/api/trades/" + id + "/consensus"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, st["consensus_reached"])
	assert.Empty(t, st["signatures"])

	rec, res := do(t, h, call{method: http.MethodPost, path: signPath, actor: logisticsActor,
		body: map[string]any{"party": "logistics"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, res["applied"])

	rec, _ = do(t, h, call{method: http.MethodPost, path: signPath, actor: buyer, body: map[string]any{"party": "buyer"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Settlement still waits for the inspection signature.
	rec, out := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: buyer,
		body: map[string]any{"target": "settled"}})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "consensus_not_reached", out["category"])
}

func TestDisputeRetriesReplay(t *testing.T) {
	h := newTestAPI(t, Config{})
	rec, created := do(t, h, call{method: http.MethodPost, path: "/api/trades", actor: buyer, body: map[string]any{
		"title": "Urea", "description": "46% N", "quantity": 500,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := created["id"].(string)
	transition(t, h, id, buyer, map[string]any{"target": "rfq_open"})

	dispute := map[string]any{"target": "disputed", "payload": map[string]any{"reason": "spec sheet changed"}, "idempotency_key": "d-1"}
	first := transition(t, h, id, buyer, dispute)
	assert.Equal(t, false, first["replayed"])
	again := transition(t, h, id, buyer, dispute)
	assert.Equal(t, true, again["replayed"])
	assert.Equal(t, first["event"].(map[string]any)["id"], again["event"].(map[string]any)["id"])

	resolve := map[string]any{"target": "rfq_open", "payload": map[string]any{"resolution": "sheet restored"}, "idempotency_key": "r-1"}
	res := transition(t, h, id, admin, resolve)
	assert.Equal(t, "rfq_open", res["trade"].(map[string]any)["state"])
	res = transition(t, h, id, admin, resolve)
	assert.Equal(t, true, res["replayed"])
	assert.Equal(t, "rfq_open", res["trade"].(map[string]any)["state"])
}

func TestRefusedActorIsForbidden(t *testing.T) {
	h := newTestAPI(t, Config{})
	_, created := do(t, h, call{method: http.MethodPost, path: "/api/trades", actor: buyer, body: map[string]any{"title": "x"}})
	id := created["id"].(string)

	stranger := domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}
	rec, out := do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/transitions", actor: stranger,
		body: map[string]any{"target": "rfq_open"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", out["category"])

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/trades", actor: stranger,
		body: map[string]any{"title": "y", "buyer_id": "buyer-1"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/trades/" + id + "/quotes",
		body: map[string]any{"unit_price": 1}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
