package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/kernel"
)

// TradeService is the kernel surface the trade endpoints need.
type TradeService interface {
	CreateTrade(ctx context.Context, actor domain.Actor, req kernel.CreateTradeRequest) (domain.Trade, error)
	SubmitQuote(ctx context.Context, actor domain.Actor, tradeID string, req kernel.QuoteRequest) (domain.Quote, error)
	TransitionTrade(ctx context.Context, req kernel.TransitionRequest) (kernel.TransitionResult, error)
	TransitionOrigin(ctx context.Context, tradeID, key string) (domain.TradeState, error)
	GetTrade(ctx context.Context, id string) (domain.Trade, error)
	ListEvents(ctx context.Context, tradeID string, opts domain.ListOpts) ([]domain.TradeEvent, error)
	ListQuotes(ctx context.Context, tradeID string) ([]domain.Quote, error)
	AllowedTransitions(ctx context.Context, tradeID string) ([]domain.TradeState, error)
	ExportDossier(ctx context.Context, tradeID string) (string, error)
}

// DossierReader loads exported dossiers.
type DossierReader interface {
	ReadDossier(ctx context.Context, tradeID string) (domain.Dossier, error)
}

// TradeHandler serves the trade lifecycle endpoints.
type TradeHandler struct {
	trades   TradeService
	dossiers DossierReader // nil disables GET dossier
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler. dossiers may be nil.
func NewTradeHandler(trades TradeService, dossiers DossierReader, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, dossiers: dossiers, logger: logHandler(logger, "trade")}
}

// Create opens a draft trade.
// POST /api/trades
func (h *TradeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req kernel.CreateTradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "create trade", err)
		return
	}
	t, err := h.trades.CreateTrade(r.Context(), actorFrom(r), req)
	if err != nil {
		writeDomainError(w, r, h.logger, "create trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type tradeResponse struct {
	Trade              domain.Trade        `json:"trade"`
	AllowedTransitions []domain.TradeState `json:"allowed_transitions"`
}

// Get returns a trade and the states it may move to next.
// GET /api/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := h.trades.GetTrade(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get trade", err)
		return
	}
	next, err := h.trades.AllowedTransitions(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get trade", err)
		return
	}
	if next == nil {
		next = []domain.TradeState{}
	}
	writeJSON(w, http.StatusOK, tradeResponse{Trade: t, AllowedTransitions: next})
}

// Events lists a trade's audit trail in write order.
// GET /api/trades/{id}/events?limit=50&offset=0
func (h *TradeHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.trades.ListEvents(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.TradeEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Quotes lists the quotes recorded against a trade.
// GET /api/trades/{id}/quotes
func (h *TradeHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.trades.GetTrade(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, "list quotes", err)
		return
	}
	quotes, err := h.trades.ListQuotes(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "list quotes", err)
		return
	}
	if quotes == nil {
		quotes = []domain.Quote{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

// SubmitQuote records a supplier quote.
// POST /api/trades/{id}/quotes
func (h *TradeHandler) SubmitQuote(w http.ResponseWriter, r *http.Request) {
	var req kernel.QuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "submit quote", err)
		return
	}
	q, err := h.trades.SubmitQuote(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		writeDomainError(w, r, h.logger, "submit quote", err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

type transitionBody struct {
	Target         string          `json:"target"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Transition applies one state change. The payload is decoded against the
// edge from the trade's current state to target, or from the original
// origin when the idempotency key was already applied. The Idempotency-Key
// header is used when the body carries no key.
// POST /api/trades/{id}/transitions
func (h *TradeHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body transitionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, r, h.logger, "transition", err)
		return
	}
	target, ok := domain.ParseTradeState(body.Target)
	if !ok {
		writeDomainError(w, r, h.logger, "transition",
			fmt.Errorf("%w: unknown target state %q", domain.ErrValidation, body.Target))
		return
	}

	key := strings.TrimSpace(body.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	from, err := h.trades.TransitionOrigin(r.Context(), id, key)
	if err != nil {
		writeDomainError(w, r, h.logger, "transition", err)
		return
	}
	payload, err := domain.DecodePayload(from, target, body.Payload)
	if err != nil {
		writeDomainError(w, r, h.logger, "transition", err)
		return
	}
	res, err := h.trades.TransitionTrade(r.Context(), kernel.TransitionRequest{
		TradeID:        id,
		Target:         target,
		Payload:        payload,
		Actor:          actorFrom(r),
		IdempotencyKey: key,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "transition", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExportDossier writes the settlement dossier to object storage.
// POST /api/trades/{id}/dossier
func (h *TradeHandler) ExportDossier(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, err := h.trades.ExportDossier(r.Context(), id)
	if errors.Is(err, kernel.ErrNoDossierSink) {
		writeError(w, http.StatusNotImplemented, "dossier storage not configured")
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "export dossier", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"trade_id": id, "path": path})
}

// GetDossier returns a previously exported dossier.
// GET /api/trades/{id}/dossier
func (h *TradeHandler) GetDossier(w http.ResponseWriter, r *http.Request) {
	if h.dossiers == nil {
		writeError(w, http.StatusNotImplemented, "dossier storage not configured")
		return
	}
	d, err := h.dossiers.ReadDossier(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "read dossier", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
