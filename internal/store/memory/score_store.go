package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// TrustStore implements domain.TrustStore.
type TrustStore struct {
	db *DB
}

// Get returns the stored score for a counterparty.
func (s *TrustStore) Get(_ context.Context, counterpartyID string) (domain.TrustScore, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	score, ok := s.db.trust[counterpartyID]
	if !ok {
		return domain.TrustScore{}, fmt.Errorf("memory: trust %s: %w", counterpartyID, domain.ErrNotFound)
	}
	score.Factors = maps.Clone(score.Factors)
	return score, nil
}

// Upsert replaces the counterparty's score.
func (s *TrustStore) Upsert(_ context.Context, score domain.TrustScore) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	score.Factors = maps.Clone(score.Factors)
	s.db.trust[score.CounterpartyID] = score
	return nil
}

// CounterpartyStore implements domain.CounterpartyStore and
// domain.IdentityStore.
type CounterpartyStore struct {
	db *DB
}

// GetFacts returns the scoring inputs for a counterparty. Settled trades
// and disputes in the DB are added to the seeded prior counts; a trade
// counts as disputed once it ever entered disputed.
func (s *CounterpartyStore) GetFacts(_ context.Context, counterpartyID string) (domain.CounterpartyFacts, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.counterparties[counterpartyID]
	if !ok {
		return domain.CounterpartyFacts{}, fmt.Errorf("memory: counterparty %s: %w", counterpartyID, domain.ErrNotFound)
	}

	settled, disputes := c.PriorSettled, c.PriorDisputes
	for id, t := range s.db.trades {
		if t.BuyerID != counterpartyID && t.SellerID != counterpartyID {
			continue
		}
		if t.State == domain.StateSettled {
			settled++
		}
		if slices.ContainsFunc(s.db.events[id], func(ev domain.TradeEvent) bool {
			return ev.Type == domain.TransitionEventType(domain.StateDisputed)
		}) {
			disputes++
		}
	}

	return domain.CounterpartyFacts{
		CounterpartyID:  c.ID,
		Verified:        c.Verified,
		BankingVerified: c.BankingVerified,
		KYCApproved:     c.KYCApproved,
		Active:          c.Active,
		RegisteredAt:    c.RegisteredAt,
		SettledTrades:   settled,
		Disputes:        disputes,
	}, nil
}

// ListActiveIDs pages active counterparty ids in id order.
func (s *CounterpartyStore) ListActiveIDs(_ context.Context, opts domain.ListOpts) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var ids []string
	for id, c := range s.db.counterparties {
		if c.Active {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Clone(page(ids, opts)), nil
}

// UserEmail returns a seeded user's contact email.
func (s *CounterpartyStore) UserEmail(_ context.Context, userID string) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	email, ok := s.db.users[userID]
	if !ok {
		return "", fmt.Errorf("memory: user %s: %w", userID, domain.ErrNotFound)
	}
	return email, nil
}

// CompanyEmail returns the counterparty's contact email, which may be empty.
func (s *CounterpartyStore) CompanyEmail(_ context.Context, companyID string) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.counterparties[companyID]
	if !ok {
		return "", fmt.Errorf("memory: company %s: %w", companyID, domain.ErrNotFound)
	}
	return c.Email, nil
}

// FraudStore implements domain.FraudStore.
type FraudStore struct {
	db *DB
}

// InsertFinding appends f.
func (s *FraudStore) InsertFinding(_ context.Context, f domain.FraudFinding) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	f.Reasons = slices.Clone(f.Reasons)
	s.db.findings = append(s.db.findings, f)
	return nil
}

// ListFindings returns findings for the entity, newest first.
func (s *FraudStore) ListFindings(_ context.Context, entityType, entityID string, opts domain.ListOpts) ([]domain.FraudFinding, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.FraudFinding
	for i := len(s.db.findings) - 1; i >= 0; i-- {
		f := s.db.findings[i]
		if f.EntityType == entityType && f.EntityID == entityID && inRange(f.CreatedAt, opts) {
			out = append(out, f)
		}
	}
	return slices.Clone(page(out, opts)), nil
}

// CorridorStore implements domain.CorridorStore.
type CorridorStore struct {
	db *DB
}

func corridorKey(origin, destination string) string {
	return strings.ToUpper(origin) + "->" + strings.ToUpper(destination)
}

// GetReliability returns the record for origin->destination. Country
// codes are matched case-insensitively.
func (s *CorridorStore) GetReliability(_ context.Context, origin, destination string) (domain.CorridorReliability, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	rec, ok := s.db.corridors[corridorKey(origin, destination)]
	if !ok {
		return domain.CorridorReliability{}, fmt.Errorf("memory: corridor %s->%s: %w", origin, destination, domain.ErrNotFound)
	}
	return rec, nil
}

// UpsertReliability replaces the record for the corridor.
func (s *CorridorStore) UpsertReliability(_ context.Context, rec domain.CorridorReliability) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.corridors[corridorKey(rec.Origin, rec.Destination)] = rec
	return nil
}

// SupplierReliability returns the supplier's delivery score, or
// ErrNotFound when none was seeded.
func (s *CorridorStore) SupplierReliability(_ context.Context, supplierID string) (float64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.counterparties[supplierID]
	if !ok || c.SupplierScore == nil {
		return 0, fmt.Errorf("memory: supplier %s reliability: %w", supplierID, domain.ErrNotFound)
	}
	return *c.SupplierScore, nil
}

var (
	_ domain.TrustStore        = (*TrustStore)(nil)
	_ domain.CounterpartyStore = (*CounterpartyStore)(nil)
	_ domain.IdentityStore     = (*CounterpartyStore)(nil)
	_ domain.FraudStore        = (*FraudStore)(nil)
	_ domain.CorridorStore     = (*CorridorStore)(nil)
)
