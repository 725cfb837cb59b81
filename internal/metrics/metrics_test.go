package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveTransition("settled", "applied", 0.1)
		m.HighRisk()
		m.FraudFlag("velocity")
		m.TrustRefresh("ok")
		m.ConsensusSign("buyer", true)
	})
}

func TestCountersAndHandler(t *testing.T) {
	require := require.New(t)
	m := New()

	m.ObserveTransition("escrow_funded", "applied", 0.02)
	m.ObserveTransition("escrow_funded", "applied", 0.03)
	m.HighRisk()
	m.FraudFlag("document")

	require.Equal(2.0, testutil.ToFloat64(m.transitions.WithLabelValues("escrow_funded", "applied")))
	require.Equal(1.0, testutil.ToFloat64(m.highRisk))
	require.Equal(1.0, testutil.ToFloat64(m.fraudFlags.WithLabelValues("document")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(200, rec.Code)
	require.True(strings.Contains(rec.Body.String(), "tradekernel_high_risk_transitions_total 1"))
}
