package domain

import "time"

// RiskLevel is a coarse risk banding shared by the fraud and corridor engines.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskCheck is the result of a single fraud assessment. It is a flag, not a
// verdict.
type RiskCheck struct {
	Flagged    bool      `json:"flagged"`
	RiskLevel  RiskLevel `json:"risk_level"`
	RiskScore  float64   `json:"risk_score"`
	Reasons    []string  `json:"reasons"`
	Confidence float64   `json:"confidence"`
}

// ModelFindings is what an external document model adds to the baseline.
type ModelFindings struct {
	RiskScore  float64  `json:"risk_score"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
}

// FraudFinding is a logged threat. Findings are append-only.
type FraudFinding struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Severity   RiskLevel `json:"severity"`
	Reasons    []string  `json:"reasons"`
	RiskScore  float64   `json:"risk_score"`
	Confidence float64   `json:"confidence"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntityTrade is the entity type for findings attached to a trade.
const EntityTrade = "trade"
