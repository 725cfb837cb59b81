package domain

import "time"

// TrustTier is the discrete banding of a trust score.
type TrustTier string

const (
	TierUnrated  TrustTier = "unrated"
	TierSilver   TrustTier = "silver"
	TierGold     TrustTier = "gold"
	TierPlatinum TrustTier = "platinum"
)

// CounterpartyFacts are the inputs trust scoring is computed from.
type CounterpartyFacts struct {
	CounterpartyID  string
	Verified        bool
	BankingVerified bool
	KYCApproved     bool
	Active          bool
	RegisteredAt    time.Time
	SettledTrades   int
	Disputes        int
}

// TrustScore is the cached projection of a counterparty's trust.
type TrustScore struct {
	CounterpartyID string         `json:"counterparty_id"`
	Total          int            `json:"total"`
	Verification   int            `json:"verification"`
	History        int            `json:"history"`
	Network        int            `json:"network"`
	Penalty        int            `json:"penalty"`
	Tier           TrustTier      `json:"tier"`
	Factors        map[string]any `json:"factors"`
	CalculatedAt   time.Time      `json:"calculated_at"`
}
