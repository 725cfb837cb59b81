// Package corridor scores shipping-lane health and estimates delivery
// windows. Its outputs are informational and never gate a transition.
package corridor

import (
	"math"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// Weights for the six sub-scores. They sum to 1.
type Weights struct {
	Congestion     float64
	CustomsDelay   float64
	FXVolatility   float64
	WeatherRisk    float64
	OnTime         float64
	DataConfidence float64
}

// DefaultWeights are the standard corridor weights.
var DefaultWeights = Weights{
	Congestion:     0.25,
	CustomsDelay:   0.20,
	FXVolatility:   0.15,
	WeatherRisk:    0.10,
	OnTime:         0.20,
	DataConfidence: 0.10,
}

// Breakdown keys.
const (
	KeyCongestion     = "congestion"
	KeyCustomsDelay   = "customs_delay"
	KeyFXVolatility   = "fx_volatility"
	KeyWeatherRisk    = "weather_risk"
	KeyOnTime         = "on_time_delivery"
	KeyDataConfidence = "data_confidence"
)

// neutralSubScore stands in for a missing metric.
const neutralSubScore = 50

// ScoreCorridor scores m with DefaultWeights.
func ScoreCorridor(m domain.CorridorMetrics) domain.CorridorHealth {
	return ScoreWith(m, DefaultWeights)
}

// ScoreWith combines normalised sub-scores into a 0-100 health score. Each
// sub-score is 0-100 with higher meaning healthier.
func ScoreWith(m domain.CorridorMetrics, w Weights) domain.CorridorHealth {
	breakdown := map[string]float64{
		KeyCongestion:     sub(m.Congestion, func(v float64) float64 { return 100 - v }),
		KeyCustomsDelay:   sub(m.CustomsDelayDays, func(v float64) float64 { return 100 - 10*v }),
		KeyFXVolatility:   sub(m.FXVolatility, func(v float64) float64 { return 100 - 5*v }),
		KeyWeatherRisk:    sub(m.WeatherRisk, func(v float64) float64 { return 100 - v }),
		KeyOnTime:         sub(m.OnTimeRate, func(v float64) float64 { return 100 * v }),
		KeyDataConfidence: sub(m.DataConfidence, func(v float64) float64 { return v }),
	}

	total := breakdown[KeyCongestion]*w.Congestion +
		breakdown[KeyCustomsDelay]*w.CustomsDelay +
		breakdown[KeyFXVolatility]*w.FXVolatility +
		breakdown[KeyWeatherRisk]*w.WeatherRisk +
		breakdown[KeyOnTime]*w.OnTime +
		breakdown[KeyDataConfidence]*w.DataConfidence

	score := round1(clamp(total, 0, 100))
	return domain.CorridorHealth{
		Score:     score,
		Breakdown: breakdown,
		RiskLevel: RiskFor(score),
	}
}

// RiskFor inverts a health or confidence value into a risk band.
func RiskFor(v float64) domain.RiskLevel {
	switch {
	case v >= 80:
		return domain.RiskLow
	case v >= 60:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

func sub(v *float64, normalise func(float64) float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return neutralSubScore
	}
	return round1(clamp(normalise(*v), 0, 100))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
