package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

var asOf = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func monthsAgo(n int) time.Time {
	return asOf.Add(-time.Duration(n*30*24) * time.Hour)
}

func TestComputeDocumentedScenario(t *testing.T) {
	require := require.New(t)

	s := Compute(domain.CounterpartyFacts{
		CounterpartyID:  "cp-1",
		Verified:        true,
		BankingVerified: true,
		Active:          true,
		RegisteredAt:    monthsAgo(14),
		SettledTrades:   20,
	}, asOf)

	// verification 20+10, history min(40,20)+15, network min(14,10)+5
	require.Equal(30, s.Verification)
	require.Equal(35, s.History)
	require.Equal(15, s.Network)
	require.Equal(0, s.Penalty)
	require.Equal(80, s.Total)
	require.Equal(domain.TierGold, s.Tier)
	require.Equal(14, s.Factors["tenure_months"])
}

func TestComputeComponents(t *testing.T) {
	tests := []struct {
		name  string
		facts domain.CounterpartyFacts
		total int
		tier  domain.TrustTier
	}{
		{
			name:  "empty profile",
			facts: domain.CounterpartyFacts{},
			total: 0,
			tier:  domain.TierUnrated,
		},
		{
			name:  "active newcomer",
			facts: domain.CounterpartyFacts{Active: true, RegisteredAt: asOf},
			total: 5,
			tier:  domain.TierUnrated,
		},
		{
			name:  "low volume bonus",
			facts: domain.CounterpartyFacts{SettledTrades: 5},
			total: 15,
			tier:  domain.TierUnrated,
		},
		{
			name: "fully verified veteran",
			facts: domain.CounterpartyFacts{
				Verified: true, BankingVerified: true, KYCApproved: true,
				Active: true, RegisteredAt: monthsAgo(40), SettledTrades: 100,
			},
			total: 90,
			tier:  domain.TierPlatinum,
		},
		{
			name: "disputes floor at zero",
			facts: domain.CounterpartyFacts{
				Verified: true, Disputes: 3,
			},
			total: 0,
			tier:  domain.TierUnrated,
		},
		{
			name: "silver after penalty",
			facts: domain.CounterpartyFacts{
				Verified: true, BankingVerified: true, KYCApproved: true,
				Active: true, RegisteredAt: monthsAgo(12), SettledTrades: 15, Disputes: 1,
			},
			total: 40 + 35 + 15 - 15,
			tier:  domain.TierSilver,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Compute(tc.facts, asOf)
			require.Equal(t, tc.total, s.Total)
			require.Equal(t, tc.tier, s.Tier)
		})
	}
}

func TestComputeIsDeterministicAndBounded(t *testing.T) {
	require := require.New(t)
	for settled := 0; settled <= 30; settled += 3 {
		for disputes := 0; disputes <= 8; disputes++ {
			f := domain.CounterpartyFacts{
				Verified: settled%2 == 0, KYCApproved: true, Active: true,
				RegisteredAt: monthsAgo(settled), SettledTrades: settled, Disputes: disputes,
			}
			a, b := Compute(f, asOf), Compute(f, asOf)
			require.Equal(a, b)
			require.GreaterOrEqual(a.Total, 0)
			require.LessOrEqual(a.Total, 100)
		}
	}
}

func TestTierThresholds(t *testing.T) {
	require := require.New(t)
	require.Equal(domain.TierUnrated, TierFor(59))
	require.Equal(domain.TierSilver, TierFor(60))
	require.Equal(domain.TierGold, TierFor(80))
	require.Equal(domain.TierGold, TierFor(89))
	require.Equal(domain.TierPlatinum, TierFor(90))
}

func TestTenureMonths(t *testing.T) {
	require := require.New(t)
	require.Equal(0, TenureMonths(time.Time{}, asOf))
	require.Equal(0, TenureMonths(asOf.Add(time.Hour), asOf))
	require.Equal(0, TenureMonths(asOf.AddDate(0, 0, -29), asOf))
	require.Equal(1, TenureMonths(asOf.AddDate(0, 0, -30), asOf))
	require.Equal(12, TenureMonths(asOf.AddDate(0, 0, -365), asOf))
}
