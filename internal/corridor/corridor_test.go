package corridor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/store/memory"
)

func f(v float64) *float64 { return &v }

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights
	require.InDelta(t, 1.0, w.Congestion+w.CustomsDelay+w.FXVolatility+w.WeatherRisk+w.OnTime+w.DataConfidence, 1e-9)
}

func TestScoreCorridor(t *testing.T) {
	require := require.New(t)

	perfect := ScoreCorridor(domain.CorridorMetrics{
		Congestion: f(0), CustomsDelayDays: f(0), FXVolatility: f(0),
		WeatherRisk: f(0), OnTimeRate: f(1), DataConfidence: f(100),
	})
	require.Equal(100.0, perfect.Score)
	require.Equal(domain.RiskLow, perfect.RiskLevel)

	missing := ScoreCorridor(domain.CorridorMetrics{})
	require.Equal(50.0, missing.Score)
	require.Equal(domain.RiskHigh, missing.RiskLevel)
	require.Len(missing.Breakdown, 6)

	// 0.25*60 + 0.20*70 + 0.15*90 + 0.10*80 + 0.20*85 + 0.10*70 = 74.5
	typical := ScoreCorridor(domain.CorridorMetrics{
		Congestion: f(40), CustomsDelayDays: f(3), FXVolatility: f(2),
		WeatherRisk: f(20), OnTimeRate: f(0.85), DataConfidence: f(70),
	})
	require.Equal(74.5, typical.Score)
	require.Equal(domain.RiskMedium, typical.RiskLevel)
	require.Equal(70.0, typical.Breakdown[KeyCustomsDelay])

	worst := ScoreCorridor(domain.CorridorMetrics{
		Congestion: f(150), CustomsDelayDays: f(30), FXVolatility: f(50),
		WeatherRisk: f(100), OnTimeRate: f(0), DataConfidence: f(-5),
	})
	require.Equal(0.0, worst.Score)
}

func TestScoreMonotonicInEachMetric(t *testing.T) {
	base := func() domain.CorridorMetrics {
		return domain.CorridorMetrics{
			Congestion: f(50), CustomsDelayDays: f(4), FXVolatility: f(6),
			WeatherRisk: f(30), OnTimeRate: f(0.7), DataConfidence: f(60),
		}
	}
	step := []struct {
		name    string
		improve func(m *domain.CorridorMetrics, i float64)
	}{
		{"congestion", func(m *domain.CorridorMetrics, i float64) { m.Congestion = f(100 - i) }},
		{"customs", func(m *domain.CorridorMetrics, i float64) { m.CustomsDelayDays = f(10 - i/10) }},
		{"fx", func(m *domain.CorridorMetrics, i float64) { m.FXVolatility = f(20 - i/5) }},
		{"weather", func(m *domain.CorridorMetrics, i float64) { m.WeatherRisk = f(100 - i) }},
		{"on_time", func(m *domain.CorridorMetrics, i float64) { m.OnTimeRate = f(i / 100) }},
		{"data", func(m *domain.CorridorMetrics, i float64) { m.DataConfidence = f(i) }},
	}
	for _, s := range step {
		t.Run(s.name, func(t *testing.T) {
			prev := -1.0
			for i := 0.0; i <= 100; i += 2.5 {
				m := base()
				s.improve(&m, i)
				got := ScoreCorridor(m).Score
				require.GreaterOrEqual(t, got, prev)
				prev = got
			}
		})
	}
}

func TestEstimate(t *testing.T) {
	require := require.New(t)

	rec := domain.CorridorReliability{AvgTransitDays: 20, ReliabilityScore: 90, CustomsRisk: domain.RiskLow}
	est := Estimate(rec, nil)
	require.Equal(17, est.MinDays)
	require.Equal(23, est.MaxDays)
	require.Equal(90.0, est.Confidence)
	require.Equal(domain.RiskLow, est.RiskLabel)

	// 0.55*90 + 0.45*60 = 76.5
	est = Estimate(rec, f(60))
	require.Equal(76.5, est.Confidence)
	require.Equal(domain.RiskMedium, est.RiskLabel)

	high := Estimate(domain.CorridorReliability{AvgTransitDays: 10, ReliabilityScore: 100, CustomsRisk: domain.RiskHigh}, f(100))
	require.Equal(6, high.MinDays)
	require.Equal(19, high.MaxDays)
	require.Equal(97.0, high.Confidence)

	low := Estimate(domain.CorridorReliability{AvgTransitDays: 10, ReliabilityScore: 5}, f(0))
	require.Equal(30.0, low.Confidence)
	require.Equal(domain.RiskHigh, low.RiskLabel)
}

func TestEstimateDeliveryConfidence(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	db := memory.New()
	require.NoError(db.Corridors().UpsertReliability(ctx, domain.CorridorReliability{
		Origin: "CNSHA", Destination: "KEMBA", AvgTransitDays: 28, ReliabilityScore: 72, CustomsRisk: domain.RiskMedium,
	}))
	db.PutCounterparty(memory.Counterparty{ID: "sup-1", SupplierScore: f(88)})

	e := NewEstimator(db.Corridors(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	est, err := e.EstimateDeliveryConfidence(ctx, "cnsha", "kemba", "sup-1")
	require.NoError(err)
	require.Equal(21, est.MinDays)
	require.Equal(37, est.MaxDays)
	require.Equal(79.2, est.Confidence)

	noSupplier, err := e.EstimateDeliveryConfidence(ctx, "CNSHA", "KEMBA", "unknown")
	require.NoError(err)
	require.Equal(72.0, noSupplier.Confidence)

	unknown, err := e.EstimateDeliveryConfidence(ctx, "XX", "YY", "")
	require.NoError(err)
	require.Equal(50.0, unknown.Confidence)
	require.Equal(15, unknown.MinDays)
	require.Equal(29, unknown.MaxDays)
}
