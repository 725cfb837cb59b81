package corridor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const (
	corridorWeight = 0.55
	supplierWeight = 0.45
	minConfidence  = 30
	maxConfidence  = 97

	// absorbs float error so 20*1.15 rounds up to 23, not 24
	epsilon = 1e-9
)

// Fallback reference data for corridors with no history.
var unknownCorridor = domain.CorridorReliability{
	AvgTransitDays:   21,
	ReliabilityScore: 50,
	CustomsRisk:      domain.RiskMedium,
}

type window struct {
	spread float64
	buffer int
}

var windows = map[domain.RiskLevel]window{
	domain.RiskLow:    {spread: 0.15, buffer: 0},
	domain.RiskMedium: {spread: 0.25, buffer: 2},
	domain.RiskHigh:   {spread: 0.40, buffer: 5},
}

// Estimator produces delivery estimates from corridor reference data.
type Estimator struct {
	store  domain.CorridorStore
	logger *slog.Logger
}

// NewEstimator creates an Estimator.
func NewEstimator(store domain.CorridorStore, logger *slog.Logger) *Estimator {
	return &Estimator{
		store:  store,
		logger: logger.With(slog.String("component", "corridor")),
	}
}

// EstimateDeliveryConfidence derives a delivery window and a confidence
// percentage for origin -> destination. When supplierID has a known
// reliability it is blended with the corridor's. Unknown corridors and
// suppliers fall back to neutral reference data.
func (e *Estimator) EstimateDeliveryConfidence(ctx context.Context, origin, destination, supplierID string) (domain.DeliveryEstimate, error) {
	rec, err := e.store.GetReliability(ctx, origin, destination)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		e.logger.DebugContext(ctx, "corridor unknown, using defaults",
			slog.String("origin", origin),
			slog.String("destination", destination),
		)
		rec = unknownCorridor
	case err != nil:
		return domain.DeliveryEstimate{}, fmt.Errorf("corridor: reliability %s->%s: %w", origin, destination, err)
	}

	var supplier *float64
	if supplierID != "" {
		s, err := e.store.SupplierReliability(ctx, supplierID)
		switch {
		case err == nil:
			supplier = &s
		case !errors.Is(err, domain.ErrNotFound):
			return domain.DeliveryEstimate{}, fmt.Errorf("corridor: supplier %s: %w", supplierID, err)
		}
	}

	return Estimate(rec, supplier), nil
}

// Estimate is the pure part of EstimateDeliveryConfidence.
func Estimate(rec domain.CorridorReliability, supplierReliability *float64) domain.DeliveryEstimate {
	w, ok := windows[rec.CustomsRisk]
	if !ok {
		w = windows[domain.RiskMedium]
	}
	avg := rec.AvgTransitDays
	if avg <= 0 {
		avg = unknownCorridor.AvgTransitDays
	}

	minDays := max(1, int(math.Floor(avg*(1-w.spread)+epsilon)))
	maxDays := max(minDays, int(math.Ceil(avg*(1+w.spread)-epsilon))+w.buffer)

	confidence := rec.ReliabilityScore
	if supplierReliability != nil {
		confidence = corridorWeight*rec.ReliabilityScore + supplierWeight*(*supplierReliability)
	}
	confidence = round1(clamp(confidence, minConfidence, maxConfidence))

	return domain.DeliveryEstimate{
		MinDays:    minDays,
		MaxDays:    maxDays,
		Confidence: confidence,
		RiskLabel:  RiskFor(confidence),
	}
}
