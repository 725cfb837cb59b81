package fraud

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

var genericProviders = []string{
	"gmail.com", "googlemail.com", "yahoo.com", "outlook.com", "hotmail.com", "live.com",
	"icloud.com", "aol.com", "proton.me", "protonmail.com", "gmx.com", "mail.com",
	"yandex.com", "zoho.com", "qq.com", "163.com",
}

// CheckIdentityConsistency compares the user's contact domain with their
// company's. A mismatch is a medium-risk flag unless the user is on a generic
// mail provider. Missing contact data lowers confidence instead of failing.
func (e *Engine) CheckIdentityConsistency(ctx context.Context, userID, companyID string) (domain.RiskCheck, error) {
	userEmail, err := e.identities.UserEmail(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.RiskCheck{}, err
	}
	companyEmail, err := e.identities.CompanyEmail(ctx, companyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.RiskCheck{}, err
	}

	userDomain, companyDomain := emailDomain(userEmail), emailDomain(companyEmail)
	switch {
	case userDomain == "" || companyDomain == "":
		return domain.RiskCheck{
			RiskLevel:  domain.RiskLow,
			Reasons:    []string{"insufficient contact data"},
			Confidence: 0.2,
		}, nil
	case slices.Contains(genericProviders, userDomain):
		return domain.RiskCheck{
			RiskLevel:  domain.RiskLow,
			RiskScore:  10,
			Reasons:    []string{"user on generic mail provider " + userDomain},
			Confidence: 0.5,
		}, nil
	case sameOrganisation(userDomain, companyDomain):
		return domain.RiskCheck{
			RiskLevel:  domain.RiskLow,
			Reasons:    []string{},
			Confidence: 0.9,
		}, nil
	}

	e.metrics.FraudFlag("identity")
	e.logger.InfoContext(ctx, "identity domain mismatch",
		slog.String("user_id", userID),
		slog.String("company_id", companyID),
	)
	return domain.RiskCheck{
		Flagged:    true,
		RiskLevel:  domain.RiskMedium,
		RiskScore:  50,
		Reasons:    []string{"contact domain " + userDomain + " does not match company domain " + companyDomain},
		Confidence: 0.7,
	}, nil
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

func sameOrganisation(a, b string) bool {
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}
