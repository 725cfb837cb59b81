package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// TrustService is the trust scoring surface.
type TrustService interface {
	ComputeTrustScore(ctx context.Context, counterpartyID string) (domain.TrustScore, error)
	PersistTrustScore(ctx context.Context, counterpartyID string) (domain.TrustScore, error)
	Latest(ctx context.Context, counterpartyID string) (domain.TrustScore, error)
}

// TrustHandler serves counterparty trust scores.
type TrustHandler struct {
	trust  TrustService
	logger *slog.Logger
}

func NewTrustHandler(trust TrustService, logger *slog.Logger) *TrustHandler {
	return &TrustHandler{trust: trust, logger: logHandler(logger, "trust")}
}

// Get returns the cached score, or a fresh computation with ?fresh=true.
// GET /api/counterparties/{id}/trust
func (h *TrustHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var (
		score domain.TrustScore
		err   error
	)
	if r.URL.Query().Get("fresh") == "true" {
		score, err = h.trust.ComputeTrustScore(r.Context(), id)
	} else {
		score, err = h.trust.Latest(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "get trust score", err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// Refresh recomputes and persists the score.
// POST /api/counterparties/{id}/trust
func (h *TrustHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	score, err := h.trust.PersistTrustScore(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "refresh trust score", err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}
