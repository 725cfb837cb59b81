// Package fraud runs independent, read-only risk assessments and records
// confirmed threats. Assessments return flags; they never block anything.
package fraud

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/metrics"
)

// Config tunes the heuristics.
type Config struct {
	TrustedHosts      []string
	VelocityWindow    time.Duration
	VelocityThreshold int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		VelocityWindow:    5 * time.Minute,
		VelocityThreshold: 10,
	}
}

// DocumentModel is an optional external scorer for documents.
type DocumentModel interface {
	AnalyzeDocument(ctx context.Context, url, docType string) (domain.ModelFindings, error)
}

// EventAppender appends trade events. domain.TradeStore satisfies it.
type EventAppender interface {
	AppendEvent(ctx context.Context, ev domain.TradeEvent) error
}

// Notifier is the fire-and-forget notification dispatcher.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Engine bundles the fraud checks.
type Engine struct {
	cfg        Config
	model      DocumentModel // nil skips augmentation
	identities domain.IdentityStore
	actions    domain.ActionLog
	findings   domain.FraudStore
	events     EventAppender
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Deps are the Engine's collaborators. Model, Notifier and Metrics may be nil.
type Deps struct {
	Model      DocumentModel
	Identities domain.IdentityStore
	Actions    domain.ActionLog
	Findings   domain.FraudStore
	Events     EventAppender
	Notifier   Notifier
	Metrics    *metrics.Metrics
}

// NewEngine creates a fraud Engine.
func NewEngine(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = def.VelocityWindow
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = def.VelocityThreshold
	}
	return &Engine{
		cfg:        cfg,
		model:      deps.Model,
		identities: deps.Identities,
		actions:    deps.Actions,
		findings:   deps.Findings,
		events:     deps.Events,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     logger.With(slog.String("component", "fraud")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func levelFor(score float64) domain.RiskLevel {
	switch {
	case score >= 60:
		return domain.RiskHigh
	case score >= 30:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func clampScore(v float64) float64 {
	return max(0, min(v, 100))
}
