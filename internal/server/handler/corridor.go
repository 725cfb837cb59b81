package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradekernel/internal/corridor"
	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// DeliveryEstimator estimates delivery windows.
type DeliveryEstimator interface {
	EstimateDeliveryConfidence(ctx context.Context, origin, destination, supplierID string) (domain.DeliveryEstimate, error)
}

// CorridorHandler serves corridor health and delivery estimates.
type CorridorHandler struct {
	estimator DeliveryEstimator
	logger    *slog.Logger
}

func NewCorridorHandler(estimator DeliveryEstimator, logger *slog.Logger) *CorridorHandler {
	return &CorridorHandler{estimator: estimator, logger: logHandler(logger, "corridor")}
}

// Score rates a corridor from raw metrics. Missing metrics score neutral.
// POST /api/corridors/score
func (h *CorridorHandler) Score(w http.ResponseWriter, r *http.Request) {
	var m domain.CorridorMetrics
	if err := decodeJSON(w, r, &m); err != nil {
		writeDomainError(w, r, h.logger, "score corridor", err)
		return
	}
	writeJSON(w, http.StatusOK, corridor.ScoreCorridor(m))
}

// Estimate returns the delivery window for a lane.
// GET /api/corridors/estimate?origin=&destination=&supplier_id=
func (h *CorridorHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	q, err := requireQuery(r, "origin", "destination")
	if err != nil {
		writeDomainError(w, r, h.logger, "estimate delivery", err)
		return
	}
	est, err := h.estimator.EstimateDeliveryConfidence(r.Context(), q["origin"], q["destination"], r.URL.Query().Get("supplier_id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "estimate delivery", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}
