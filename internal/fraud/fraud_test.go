package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/crypto"
	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type modelMock struct {
	mock.Mock
}

func (m *modelMock) AnalyzeDocument(ctx context.Context, url, docType string) (domain.ModelFindings, error) {
	args := m.Called(ctx, url, docType)
	return args.Get(0).(domain.ModelFindings), args.Error(1)
}

func newTestEngine(t *testing.T, model DocumentModel) (*Engine, *memory.DB, *memory.ActionLog) {
	t.Helper()
	db := memory.New()
	actions := memory.NewActionLog()
	deps := Deps{
		Identities: db.Counterparties(),
		Actions:    actions,
		Findings:   db.Fraud(),
		Events:     db.Trades(),
	}
	if model != nil {
		deps.Model = model
	}
	e := NewEngine(Config{TrustedHosts: []string{"tradekernel.io", "s3.amazonaws.com"}}, deps,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return fixedNow }
	return e, db, actions
}

func TestAnalyzeDocumentBaseline(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		docType string
		score   float64
		flagged bool
	}{
		{"trusted pdf invoice", "https://docs.tradekernel.io/inv/42.pdf", "invoice", 10, false},
		{"untrusted host", "https://files.example.com/inv/42.pdf", "invoice", 30, false},
		{"plain http", "http://docs.tradekernel.io/inv/42.pdf", "invoice", 25, false},
		{"executable", "https://files.example.com/inv/42.exe", "invoice", 100, true},
		{"redirect host", "https://bit.ly/3xYz", "invoice", 75, true},
		{"extension mismatch", "https://docs.tradekernel.io/inv/42.docx", "invoice", 35, true},
		{"unknown type uses defaults", "https://docs.tradekernel.io/a/photo.png", "misc", 10, false},
		{"invalid url", "not a url", "invoice", 70, true},
		{"unsupported scheme", "ftp://docs.tradekernel.io/x.pdf", "invoice", 70, true},
	}

	e, _, _ := newTestEngine(t, nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := e.AnalyzeDocument(context.Background(), tc.url, tc.docType)
			require.Equal(t, tc.score, got.RiskScore)
			require.Equal(t, tc.flagged, got.Flagged)
			require.NotNil(t, got.Reasons)
			require.Equal(t, baselineConfidence, got.Confidence)
		})
	}
}

func TestAnalyzeDocumentMergesModel(t *testing.T) {
	require := require.New(t)
	model := new(modelMock)
	url := "https://files.example.com/inv/42.pdf"
	model.On("AnalyzeDocument", mock.Anything, url, "invoice").
		Return(domain.ModelFindings{RiskScore: 82, Reasons: []string{"altered totals"}, Confidence: 0.85}, nil)

	e, _, _ := newTestEngine(t, model)
	got := e.AnalyzeDocument(context.Background(), url, "invoice")

	require.Equal(82.0, got.RiskScore)
	require.True(got.Flagged)
	require.Equal(domain.RiskHigh, got.RiskLevel)
	require.Equal(0.85, got.Confidence)
	require.Contains(got.Reasons, "altered totals")
	require.Contains(got.Reasons, "host files.example.com is not on the trusted list")
	model.AssertExpectations(t)
}

func TestAnalyzeDocumentModelNeverLowersBaseline(t *testing.T) {
	model := new(modelMock)
	model.On("AnalyzeDocument", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.ModelFindings{RiskScore: 0}, nil)

	e, _, _ := newTestEngine(t, model)
	got := e.AnalyzeDocument(context.Background(), "https://files.example.com/inv/42.docx", "invoice")
	require.Equal(t, 55.0, got.RiskScore)
	require.True(t, got.Flagged)
}

func TestAnalyzeDocumentModelFailureDegradesToBaseline(t *testing.T) {
	require := require.New(t)
	url := "https://docs.tradekernel.io/inv/42.pdf"

	plain, _, _ := newTestEngine(t, nil)
	want := plain.AnalyzeDocument(context.Background(), url, "invoice")

	model := new(modelMock)
	model.On("AnalyzeDocument", mock.Anything, url, "invoice").
		Return(domain.ModelFindings{}, fmt.Errorf("%w: timeout", domain.ErrExternalDependency))
	e, _, _ := newTestEngine(t, model)

	require.Equal(want, e.AnalyzeDocument(context.Background(), url, "invoice"))
}

func TestAnalyzeDocumentSkipsModelForInvalidURL(t *testing.T) {
	model := new(modelMock)
	e, _, _ := newTestEngine(t, model)
	got := e.AnalyzeDocument(context.Background(), "::", "invoice")
	require.True(t, got.Flagged)
	model.AssertNotCalled(t, "AnalyzeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckIdentityConsistency(t *testing.T) {
	e, db, _ := newTestEngine(t, nil)
	db.PutCounterparty(memory.Counterparty{ID: "acme", Email: "trade@acme.com"})
	db.PutUser("match", "jo@acme.com")
	db.PutUser("sub", "jo@sales.acme.com")
	db.PutUser("generic", "jo.acme@gmail.com")
	db.PutUser("other", "jo@acme-supplies.net")

	tests := []struct {
		user    string
		flagged bool
		level   domain.RiskLevel
	}{
		{"match", false, domain.RiskLow},
		{"sub", false, domain.RiskLow},
		{"generic", false, domain.RiskLow},
		{"other", true, domain.RiskMedium},
		{"unknown", false, domain.RiskLow},
	}
	for _, tc := range tests {
		t.Run(tc.user, func(t *testing.T) {
			got, err := e.CheckIdentityConsistency(context.Background(), tc.user, "acme")
			require.NoError(t, err)
			require.Equal(t, tc.flagged, got.Flagged)
			require.Equal(t, tc.level, got.RiskLevel)
		})
	}

	got, err := e.CheckIdentityConsistency(context.Background(), "unknown", "acme")
	require.NoError(t, err)
	require.Equal(t, 0.2, got.Confidence)
}

func TestCheckVelocity(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	e, _, actions := newTestEngine(t, nil)

	// Outside the window, must not count.
	for range 20 {
		require.NoError(actions.Record(ctx, "u1", "transition", fixedNow.Add(-6*time.Minute)))
	}
	for range 10 {
		require.NoError(e.RecordAction(ctx, "u1", "transition"))
	}
	got := e.CheckVelocity(ctx, "u1", "transition")
	require.False(got.Flagged)
	require.Equal(50.0, got.RiskScore)

	require.NoError(e.RecordAction(ctx, "u1", "transition"))
	got = e.CheckVelocity(ctx, "u1", "transition")
	require.True(got.Flagged)
	require.Equal(domain.RiskHigh, got.RiskLevel)

	other := e.CheckVelocity(ctx, "u1", "quote")
	require.False(other.Flagged)
	require.Zero(other.RiskScore)
}

type brokenLog struct{}

func (brokenLog) Record(context.Context, string, string, time.Time) error { return errors.New("down") }
func (brokenLog) CountSince(context.Context, string, string, time.Time) (int, error) {
	return 0, errors.New("down")
}

func TestCheckVelocityDegradesWhenLogUnavailable(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.actions = brokenLog{}
	got := e.CheckVelocity(context.Background(), "u1", "transition")
	require.False(t, got.Flagged)
	require.Zero(t, got.Confidence)
}

func TestLogThreatAppendsFindingAndTradeEvent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	e, db, _ := newTestEngine(t, nil)

	require.NoError(db.Trades().Create(ctx, domain.Trade{ID: "t1", State: domain.StateDraft, Version: 1},
		domain.TradeEvent{ID: "e0", TradeID: "t1", Type: domain.EventTradeCreated}))

	f, err := e.LogThreat(ctx, domain.FraudFinding{
		Type: "document_forgery", RiskScore: 75, Reasons: []string{"altered totals"},
		EntityType: domain.EntityTrade, EntityID: "t1", ActorID: "u1",
	})
	require.NoError(err)
	require.NotEmpty(f.ID)
	require.Equal(domain.RiskHigh, f.Severity)

	list, err := e.ListThreats(ctx, domain.EntityTrade, "t1", domain.ListOpts{})
	require.NoError(err)
	require.Len(list, 1)

	events, err := db.Trades().ListEvents(ctx, "t1", domain.ListOpts{})
	require.NoError(err)
	require.Len(events, 2)
	require.Equal(domain.EventFraudAlert, events[1].Type)
}

func TestLogThreatValidates(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_, err := e.LogThreat(context.Background(), domain.FraudFinding{Type: "x"})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.LogThreat(context.Background(), domain.FraudFinding{Type: "x", EntityType: "user", EntityID: "u", RiskScore: 120})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAssessmentsDoNotWriteFindings(t *testing.T) {
	ctx := context.Background()
	e, db, _ := newTestEngine(t, nil)
	e.AnalyzeDocument(ctx, "https://bit.ly/x", "invoice")
	e.CheckVelocity(ctx, "u", "a")

	list, err := db.Fraud().ListFindings(ctx, "document", "https://bit.ly/x", domain.ListOpts{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestHTTPModel(t *testing.T) {
	require := require.New(t)
	signer := &crypto.RequestSigner{KeyID: "k", Secret: "s"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path != analyzePath ||
			!signer.Verify(r.Method, r.URL.Path, string(body), r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.ModelFindings{RiskScore: 64, Reasons: []string{"reused template"}, Confidence: 0.7})
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, signer, time.Second)
	got, err := m.AnalyzeDocument(context.Background(), "https://x/y.pdf", "invoice")
	require.NoError(err)
	require.Equal(64.0, got.RiskScore)

	bad := NewHTTPModel(srv.URL, &crypto.RequestSigner{KeyID: "k", Secret: "wrong"}, time.Second)
	_, err = bad.AnalyzeDocument(context.Background(), "https://x/y.pdf", "invoice")
	require.ErrorIs(err, domain.ErrExternalDependency)
}
