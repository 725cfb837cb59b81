// Package handler implements the tradekernel HTTP endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const maxBodyBytes = 1 << 20

// Actor identity headers, set by the authenticating gateway.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorBody is the JSON shape of a failed request.
type errorBody struct {
	Error    string            `json:"error"`
	Category string            `json:"category,omitempty"`
	From     domain.TradeState `json:"from,omitempty"`
	To       domain.TradeState `json:"to,omitempty"`
}

// StatusFor maps an error to its HTTP status by taxonomy category.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	}
	switch domain.Category(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrConcurrentModification:
		return http.StatusConflict
	case domain.ErrPrecondition, domain.ErrConsensusNotReached:
		return http.StatusPreconditionFailed
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders err with its category. Unclassified errors are
// logged and hidden behind a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	body := errorBody{Error: err.Error()}
	if c := domain.Category(err); c != nil {
		body.Category = strings.ReplaceAll(c.Error(), " ", "_")
	}
	var te *domain.TransitionError
	if errors.As(err, &te) {
		body.From, body.To = te.From, te.To
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %s", domain.ErrValidation, err.Error())
	}
	return nil
}

// actorFrom reads the acting identity from the request headers.
func actorFrom(r *http.Request) domain.Actor {
	return domain.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Role: domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))),
	}
}

// parseListOpts reads limit (default 50, max 500), offset, and RFC 3339
// since/until bounds.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, 500)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

func requireQuery(r *http.Request, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	var missing []string
	for _, n := range names {
		v := strings.TrimSpace(r.URL.Query().Get(n))
		if v == "" {
			missing = append(missing, n)
		}
		out[n] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing query parameter %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return out, nil
}
