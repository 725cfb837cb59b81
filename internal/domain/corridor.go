package domain

import "time"

// CorridorMetrics are the raw observations for one shipping lane. A nil
// field means the metric is unavailable.
type CorridorMetrics struct {
	Congestion       *float64 `json:"congestion,omitempty"`         // index 0-100, higher is worse
	CustomsDelayDays *float64 `json:"customs_delay_days,omitempty"` // average clearance delay
	FXVolatility     *float64 `json:"fx_volatility,omitempty"`      // percent
	WeatherRisk      *float64 `json:"weather_risk,omitempty"`       // index 0-100, higher is worse
	OnTimeRate       *float64 `json:"on_time_rate,omitempty"`       // fraction 0-1
	DataConfidence   *float64 `json:"data_confidence,omitempty"`    // 0-100
}

// CorridorHealth is a scored corridor.
type CorridorHealth struct {
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
	RiskLevel RiskLevel          `json:"risk_level"`
}

// CorridorReliability is reference data for an origin/destination pair.
type CorridorReliability struct {
	Origin           string    `json:"origin"`
	Destination      string    `json:"destination"`
	AvgTransitDays   float64   `json:"avg_transit_days"`
	ReliabilityScore float64   `json:"reliability_score"`
	CustomsRisk      RiskLevel `json:"customs_risk"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DeliveryEstimate is the delivery window shown to participants.
type DeliveryEstimate struct {
	MinDays    int       `json:"min_days"`
	MaxDays    int       `json:"max_days"`
	Confidence float64   `json:"confidence"`
	RiskLabel  RiskLevel `json:"risk_label"`
}
