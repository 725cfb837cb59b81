package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// FraudService is the fraud detection surface.
type FraudService interface {
	AnalyzeDocument(ctx context.Context, rawURL, docType string) domain.RiskCheck
	CheckIdentityConsistency(ctx context.Context, userID, companyID string) (domain.RiskCheck, error)
	CheckVelocity(ctx context.Context, actorID, actionType string) domain.RiskCheck
	LogThreat(ctx context.Context, f domain.FraudFinding) (domain.FraudFinding, error)
	ListThreats(ctx context.Context, entityType, entityID string, opts domain.ListOpts) ([]domain.FraudFinding, error)
}

// FraudHandler serves the fraud checks and threat log.
type FraudHandler struct {
	fraud  FraudService
	logger *slog.Logger
}

func NewFraudHandler(fraud FraudService, logger *slog.Logger) *FraudHandler {
	return &FraudHandler{fraud: fraud, logger: logHandler(logger, "fraud")}
}

// AnalyzeDocument scores a document link.
// POST /api/fraud/document
func (h *FraudHandler) AnalyzeDocument(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL     string `json:"url"`
		DocType string `json:"doc_type"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, r, h.logger, "analyze document", err)
		return
	}
	writeJSON(w, http.StatusOK, h.fraud.AnalyzeDocument(r.Context(), body.URL, body.DocType))
}

// Identity compares a user's contact data with their company's.
// GET /api/fraud/identity?user_id=&company_id=
func (h *FraudHandler) Identity(w http.ResponseWriter, r *http.Request) {
	q, err := requireQuery(r, "user_id", "company_id")
	if err != nil {
		writeDomainError(w, r, h.logger, "check identity", err)
		return
	}
	check, err := h.fraud.CheckIdentityConsistency(r.Context(), q["user_id"], q["company_id"])
	if err != nil {
		writeDomainError(w, r, h.logger, "check identity", err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// Velocity reports an actor's recent action rate.
// GET /api/fraud/velocity?actor_id=&action=
func (h *FraudHandler) Velocity(w http.ResponseWriter, r *http.Request) {
	q, err := requireQuery(r, "actor_id", "action")
	if err != nil {
		writeDomainError(w, r, h.logger, "check velocity", err)
		return
	}
	writeJSON(w, http.StatusOK, h.fraud.CheckVelocity(r.Context(), q["actor_id"], q["action"]))
}

// LogThreat appends a finding to the audit trail.
// POST /api/fraud/threats
func (h *FraudHandler) LogThreat(w http.ResponseWriter, r *http.Request) {
	var f domain.FraudFinding
	if err := decodeJSON(w, r, &f); err != nil {
		writeDomainError(w, r, h.logger, "log threat", err)
		return
	}
	if f.ActorID == "" {
		f.ActorID = actorFrom(r).ID
	}
	out, err := h.fraud.LogThreat(r.Context(), f)
	if err != nil {
		writeDomainError(w, r, h.logger, "log threat", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// ListThreats returns an entity's findings, newest first.
// GET /api/fraud/threats?entity_type=&entity_id=
func (h *FraudHandler) ListThreats(w http.ResponseWriter, r *http.Request) {
	q, err := requireQuery(r, "entity_type", "entity_id")
	if err != nil {
		writeDomainError(w, r, h.logger, "list threats", err)
		return
	}
	out, err := h.fraud.ListThreats(r.Context(), q["entity_type"], q["entity_id"], parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list threats", err)
		return
	}
	if out == nil {
		out = []domain.FraudFinding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threats": out})
}
