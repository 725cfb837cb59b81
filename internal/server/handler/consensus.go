package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradekernel/internal/consensus"
	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// ConsensusService is the consensus protocol surface.
type ConsensusService interface {
	Sign(ctx context.Context, req consensus.SignRequest) (consensus.SignResult, error)
	Check(ctx context.Context, tradeID string) (domain.ConsensusStatus, error)
	RequestConsensus(ctx context.Context, tradeID string, party domain.Party, requester domain.Actor) (bool, error)
}

// InspectionAttestor signs attestations for the automated inspection party.
type InspectionAttestor interface {
	Attest(tradeID, party string) (string, error)
}

// ConsensusHandler serves the settlement consensus endpoints.
type ConsensusHandler struct {
	protocol  ConsensusService
	inspector InspectionAttestor // nil: inspection signers bring their own attestation
	logger    *slog.Logger
}

// NewConsensusHandler creates a ConsensusHandler. inspector may be nil.
func NewConsensusHandler(protocol ConsensusService, inspector InspectionAttestor, logger *slog.Logger) *ConsensusHandler {
	return &ConsensusHandler{protocol: protocol, inspector: inspector, logger: logHandler(logger, "consensus")}
}

// Status reports which parties have signed.
// GET /api/trades/{id}/consensus
func (h *ConsensusHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.protocol.Check(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "check consensus", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type signBody struct {
	Party       domain.Party `json:"party"`
	SignerID    string       `json:"signer_id"`
	Attestation string       `json:"attestation"`
}

// Sign records a party's approval as the acting identity. Only admin and
// system callers may name a different signer_id. An inspection-role caller
// without an attestation is attested with the service's inspection key when
// one is configured.
// POST /api/trades/{id}/consensus/sign
func (h *ConsensusHandler) Sign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body signBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, r, h.logger, "sign consensus", err)
		return
	}
	actor := actorFrom(r)
	if body.Party == domain.PartyInspection && body.Attestation == "" &&
		actor.Role == domain.RoleInspection && h.inspector != nil {
		att, err := h.inspector.Attest(id, string(body.Party))
		if err != nil {
			writeDomainError(w, r, h.logger, "sign consensus", err)
			return
		}
		body.Attestation = att
	}

	res, err := h.protocol.Sign(r.Context(), consensus.SignRequest{
		TradeID:     id,
		Party:       body.Party,
		SignerID:    body.SignerID,
		Attestation: body.Attestation,
		Actor:       actor,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "sign consensus", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Request asks a party to sign without signing for it.
// POST /api/trades/{id}/consensus/request
func (h *ConsensusHandler) Request(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Party domain.Party `json:"party"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, r, h.logger, "request consensus", err)
		return
	}
	ok, err := h.protocol.RequestConsensus(r.Context(), id, body.Party, actorFrom(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "request consensus", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"trade_id": id, "party": body.Party, "requested": ok})
}
