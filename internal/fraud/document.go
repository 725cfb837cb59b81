package fraud

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

const (
	documentBaseline   = 10
	documentFlagScore  = 60
	baselineConfidence = 0.6
)

// Red-flag weights. Structural flags always flag the document.
const (
	weightInvalidURL   = 60
	weightExecutable   = 70
	weightRedirectHost = 40
	weightUntrusted    = 20
	weightInsecure     = 15
	weightMismatch     = 25
)

var executableExts = []string{
	"exe", "bat", "cmd", "com", "sh", "js", "msi", "scr", "jar", "vbs", "ps1", "apk", "dll",
}

// Link shorteners and redirectors hide the real document host.
var redirectHosts = []string{
	"bit.ly", "tinyurl.com", "t.co", "goo.gl", "ow.ly", "is.gd", "buff.ly", "rebrand.ly", "cutt.ly",
}

var expectedExts = map[string][]string{
	"invoice":                {"pdf"},
	"proforma_invoice":       {"pdf"},
	"bill_of_lading":         {"pdf", "tif", "tiff"},
	"certificate_of_origin":  {"pdf", "jpg", "jpeg", "png"},
	"inspection_certificate": {"pdf", "jpg", "jpeg", "png"},
	"packing_list":           {"pdf", "xlsx", "xls", "csv"},
	"photo":                  {"jpg", "jpeg", "png", "webp"},
}

var defaultExts = []string{"pdf", "jpg", "jpeg", "png"}

// AnalyzeDocument scores a document reference against structural red flags
// and, when a model is configured, merges the model's findings in. A model
// failure leaves the baseline result unchanged.
func (e *Engine) AnalyzeDocument(ctx context.Context, rawURL, docType string) domain.RiskCheck {
	base := e.documentBaseline(rawURL, docType)

	aug := e.augment(ctx, rawURL, docType, base)
	result := mergeAugmentation(base.check, aug)
	result.Flagged = result.RiskScore >= documentFlagScore || base.structural
	result.RiskLevel = levelFor(result.RiskScore)

	if result.Flagged {
		e.metrics.FraudFlag("document")
	}
	return result
}

type baselineResult struct {
	check      domain.RiskCheck
	structural bool
	validURL   bool
}

func (e *Engine) documentBaseline(rawURL, docType string) baselineResult {
	score := float64(documentBaseline)
	var reasons []string
	structural := false

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return baselineResult{
			check: domain.RiskCheck{
				RiskScore:  clampScore(score + weightInvalidURL),
				Reasons:    []string{"invalid document URL"},
				Confidence: baselineConfidence,
			},
			structural: true,
		}
	}

	host := strings.ToLower(u.Hostname())
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")

	if slices.Contains(executableExts, ext) {
		score += weightExecutable
		reasons = append(reasons, "executable file extension ."+ext)
		structural = true
	}
	if hostMatches(host, redirectHosts) {
		score += weightRedirectHost
		reasons = append(reasons, "low-trust redirect host "+host)
		structural = true
	} else if !hostMatches(host, e.cfg.TrustedHosts) {
		score += weightUntrusted
		reasons = append(reasons, "host "+host+" is not on the trusted list")
	}
	if u.Scheme != "https" {
		score += weightInsecure
		reasons = append(reasons, "document served without TLS")
	}

	allowed, ok := expectedExts[strings.ToLower(strings.TrimSpace(docType))]
	if !ok {
		allowed = defaultExts
	}
	if !slices.Contains(executableExts, ext) && !slices.Contains(allowed, ext) {
		score += weightMismatch
		if ext == "" {
			reasons = append(reasons, "missing file extension for "+docType)
		} else {
			reasons = append(reasons, "extension ."+ext+" unexpected for "+docType)
		}
		structural = true
	}

	return baselineResult{
		check: domain.RiskCheck{
			RiskScore:  clampScore(score),
			Reasons:    reasons,
			Confidence: baselineConfidence,
		},
		structural: structural,
		validURL:   true,
	}
}

// augmentation is the optional model contribution. ok is false when no model
// is configured, the URL is unusable, or the model call failed.
type augmentation struct {
	findings domain.ModelFindings
	ok       bool
}

func (e *Engine) augment(ctx context.Context, rawURL, docType string, base baselineResult) augmentation {
	if e.model == nil || !base.validURL {
		return augmentation{}
	}
	f, err := e.model.AnalyzeDocument(ctx, rawURL, docType)
	if err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, domain.ErrExternalDependency) {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "document model unavailable, using baseline",
			slog.String("error", err.Error()),
		)
		return augmentation{}
	}
	return augmentation{findings: f, ok: true}
}

// mergeAugmentation takes the larger score and the union of reasons.
func mergeAugmentation(base domain.RiskCheck, aug augmentation) domain.RiskCheck {
	out := base
	out.Reasons = slices.Clone(base.Reasons)
	if !aug.ok {
		if out.Reasons == nil {
			out.Reasons = []string{}
		}
		return out
	}
	out.RiskScore = max(base.RiskScore, clampScore(aug.findings.RiskScore))
	for _, r := range aug.findings.Reasons {
		if !slices.Contains(out.Reasons, r) {
			out.Reasons = append(out.Reasons, r)
		}
	}
	out.Confidence = max(base.Confidence, aug.findings.Confidence)
	if out.Reasons == nil {
		out.Reasons = []string{}
	}
	return out
}

func hostMatches(host string, list []string) bool {
	for _, h := range list {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
