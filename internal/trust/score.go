// Package trust computes counterparty trust scores.
package trust

import (
	"time"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const (
	pointsVerified        = 20
	pointsBankingVerified = 10
	pointsKYCApproved     = 10

	pointsPerSettledTrade = 2
	maxSettledPoints      = 20
	volumeBonusHigh       = 15 // at >= 15 settled trades
	volumeBonusLow        = 5  // at >= 5 settled trades

	maxTenureMonths   = 10
	activeBaseline    = 5
	penaltyPerDispute = 15

	daysPerMonth = 30
)

// Compute derives a trust score from facts as of asOf. It is a pure function:
// identical facts and asOf always produce an identical record.
func Compute(f domain.CounterpartyFacts, asOf time.Time) domain.TrustScore {
	verification := 0
	if f.Verified {
		verification += pointsVerified
	}
	if f.BankingVerified {
		verification += pointsBankingVerified
	}
	if f.KYCApproved {
		verification += pointsKYCApproved
	}

	settled := max(f.SettledTrades, 0)
	bonus := 0
	switch {
	case settled >= 15:
		bonus = volumeBonusHigh
	case settled >= 5:
		bonus = volumeBonusLow
	}
	history := min(settled*pointsPerSettledTrade, maxSettledPoints) + bonus

	months := TenureMonths(f.RegisteredAt, asOf)
	network := min(months, maxTenureMonths)
	if f.Active {
		network += activeBaseline
	}

	penalty := max(f.Disputes, 0) * penaltyPerDispute
	total := clamp(verification+history+network-penalty, 0, 100)

	return domain.TrustScore{
		CounterpartyID: f.CounterpartyID,
		Total:          total,
		Verification:   verification,
		History:        history,
		Network:        network,
		Penalty:        penalty,
		Tier:           TierFor(total),
		CalculatedAt:   asOf,
		Factors: map[string]any{
			"verified":         f.Verified,
			"banking_verified": f.BankingVerified,
			"kyc_approved":     f.KYCApproved,
			"settled_trades":   settled,
			"volume_bonus":     bonus,
			"tenure_months":    months,
			"active":           f.Active,
			"disputes":         max(f.Disputes, 0),
		},
	}
}

// Unrated is the record returned for a counterparty with no facts.
func Unrated(counterpartyID string, asOf time.Time) domain.TrustScore {
	s := Compute(domain.CounterpartyFacts{CounterpartyID: counterpartyID}, asOf)
	s.Factors["found"] = false
	return s
}

// TierFor bands a total score.
func TierFor(total int) domain.TrustTier {
	switch {
	case total >= 90:
		return domain.TierPlatinum
	case total >= 80:
		return domain.TierGold
	case total >= 60:
		return domain.TierSilver
	default:
		return domain.TierUnrated
	}
}

// TenureMonths counts whole 30-day periods between registered and asOf.
func TenureMonths(registered, asOf time.Time) int {
	if registered.IsZero() || asOf.Before(registered) {
		return 0
	}
	return int(asOf.Sub(registered).Hours() / 24 / daysPerMonth)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
