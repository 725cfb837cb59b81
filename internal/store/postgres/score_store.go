package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// TrustStore implements domain.TrustStore using PostgreSQL.
type TrustStore struct {
	pool *pgxpool.Pool
}

// NewTrustStore creates a TrustStore backed by pool.
func NewTrustStore(pool *pgxpool.Pool) *TrustStore {
	return &TrustStore{pool: pool}
}

// Get returns the latest score for a counterparty.
func (s *TrustStore) Get(ctx context.Context, counterpartyID string) (domain.TrustScore, error) {
	var (
		sc          domain.TrustScore
		tier        string
		factorsJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT counterparty_id, total, verification, history, network, penalty, tier, factors, calculated_at
		FROM trust_scores WHERE counterparty_id = $1`, counterpartyID,
	).Scan(&sc.CounterpartyID, &sc.Total, &sc.Verification, &sc.History, &sc.Network, &sc.Penalty,
		&tier, &factorsJSON, &sc.CalculatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TrustScore{}, fmt.Errorf("postgres: trust %s: %w", counterpartyID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TrustScore{}, fmt.Errorf("postgres: get trust %s: %w", counterpartyID, err)
	}
	sc.Tier = domain.TrustTier(tier)
	if err := json.Unmarshal(factorsJSON, &sc.Factors); err != nil {
		return domain.TrustScore{}, fmt.Errorf("postgres: unmarshal trust factors: %w", err)
	}
	return sc, nil
}

// Upsert replaces the stored score, so recomputing is idempotent.
func (s *TrustStore) Upsert(ctx context.Context, sc domain.TrustScore) error {
	factorsJSON, err := json.Marshal(sc.Factors)
	if err != nil {
		return fmt.Errorf("postgres: marshal trust factors: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trust_scores (counterparty_id, total, verification, history, network, penalty, tier, factors, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (counterparty_id) DO UPDATE SET
			total = EXCLUDED.total, verification = EXCLUDED.verification, history = EXCLUDED.history,
			network = EXCLUDED.network, penalty = EXCLUDED.penalty, tier = EXCLUDED.tier,
			factors = EXCLUDED.factors, calculated_at = EXCLUDED.calculated_at`,
		sc.CounterpartyID, sc.Total, sc.Verification, sc.History, sc.Network, sc.Penalty,
		string(sc.Tier), factorsJSON, sc.CalculatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert trust %s: %w", sc.CounterpartyID, err)
	}
	return nil
}

// CounterpartyStore implements domain.CounterpartyStore and
// domain.IdentityStore using PostgreSQL.
type CounterpartyStore struct {
	pool *pgxpool.Pool
}

// NewCounterpartyStore creates a CounterpartyStore backed by pool.
func NewCounterpartyStore(pool *pgxpool.Pool) *CounterpartyStore {
	return &CounterpartyStore{pool: pool}
}

// GetFacts derives settled-trade and dispute counts from the trade tables
// and adds them to the counterparty's imported history.
func (s *CounterpartyStore) GetFacts(ctx context.Context, counterpartyID string) (domain.CounterpartyFacts, error) {
	var f domain.CounterpartyFacts
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, c.verified, c.banking_verified, c.kyc_approved, c.active, c.created_at,
			c.prior_settled + (
				SELECT COUNT(*) FROM trades t
				WHERE (t.buyer_id = c.id OR t.seller_id = c.id) AND t.state = 'settled'
			),
			c.prior_disputes + (
				SELECT COUNT(DISTINCT t.id) FROM trades t
				JOIN trade_events e ON e.trade_id = t.id AND e.type = $2
				WHERE t.buyer_id = c.id OR t.seller_id = c.id
			)
		FROM counterparties c WHERE c.id = $1`,
		counterpartyID, string(domain.TransitionEventType(domain.StateDisputed)),
	).Scan(&f.CounterpartyID, &f.Verified, &f.BankingVerified, &f.KYCApproved, &f.Active,
		&f.RegisteredAt, &f.SettledTrades, &f.Disputes)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CounterpartyFacts{}, fmt.Errorf("postgres: counterparty %s: %w", counterpartyID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CounterpartyFacts{}, fmt.Errorf("postgres: counterparty facts %s: %w", counterpartyID, err)
	}
	return f, nil
}

// ListActiveIDs pages active counterparty ids in id order.
func (s *CounterpartyStore) ListActiveIDs(ctx context.Context, opts domain.ListOpts) ([]string, error) {
	query, args := listClause(`SELECT id FROM counterparties WHERE active`, nil, "created_at", "id", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active counterparties: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan counterparty ids: %w", err)
	}
	return ids, nil
}

// UserEmail returns a user's contact email.
func (s *CounterpartyStore) UserEmail(ctx context.Context, userID string) (string, error) {
	return s.email(ctx, `SELECT email FROM users WHERE id = $1`, "user", userID)
}

// CompanyEmail returns a counterparty's contact email.
func (s *CounterpartyStore) CompanyEmail(ctx context.Context, companyID string) (string, error) {
	return s.email(ctx, `SELECT email FROM counterparties WHERE id = $1`, "company", companyID)
}

func (s *CounterpartyStore) email(ctx context.Context, query, kind, id string) (string, error) {
	var email string
	err := s.pool.QueryRow(ctx, query, id).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: %s %s: %w", kind, id, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: %s email %s: %w", kind, id, err)
	}
	return email, nil
}

// FraudStore implements domain.FraudStore using PostgreSQL.
type FraudStore struct {
	pool *pgxpool.Pool
}

// NewFraudStore creates a FraudStore backed by pool.
func NewFraudStore(pool *pgxpool.Pool) *FraudStore {
	return &FraudStore{pool: pool}
}

// InsertFinding appends f to fraud_findings.
func (s *FraudStore) InsertFinding(ctx context.Context, f domain.FraudFinding) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fraud_findings (id, type, severity, reasons, risk_score, confidence, entity_type, entity_id, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.Type, string(f.Severity), nonNilStrings(f.Reasons), f.RiskScore, f.Confidence,
		f.EntityType, f.EntityID, f.ActorID, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert finding %s: %w", f.ID, err)
	}
	return nil
}

// ListFindings returns findings for an entity, newest first.
func (s *FraudStore) ListFindings(ctx context.Context, entityType, entityID string, opts domain.ListOpts) ([]domain.FraudFinding, error) {
	query, args := listClause(`
		SELECT id, type, severity, reasons, risk_score, confidence, entity_type, entity_id, actor_id, created_at
		FROM fraud_findings WHERE entity_type = $1 AND entity_id = $2`,
		[]any{entityType, entityID}, "created_at", "created_at DESC, id DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list findings: %w", err)
	}
	defer rows.Close()

	var out []domain.FraudFinding
	for rows.Next() {
		var (
			f        domain.FraudFinding
			severity string
		)
		if err := rows.Scan(&f.ID, &f.Type, &severity, &f.Reasons, &f.RiskScore, &f.Confidence,
			&f.EntityType, &f.EntityID, &f.ActorID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan finding: %w", err)
		}
		f.Severity = domain.RiskLevel(severity)
		out = append(out, f)
	}
	return out, rows.Err()
}

// CorridorStore implements domain.CorridorStore using PostgreSQL.
type CorridorStore struct {
	pool *pgxpool.Pool
}

// NewCorridorStore creates a CorridorStore backed by pool.
func NewCorridorStore(pool *pgxpool.Pool) *CorridorStore {
	return &CorridorStore{pool: pool}
}

// GetReliability returns the reliability row for origin->destination.
func (s *CorridorStore) GetReliability(ctx context.Context, origin, destination string) (domain.CorridorReliability, error) {
	var (
		rec  domain.CorridorReliability
		risk string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT origin, destination, avg_transit_days, reliability_score, customs_risk, updated_at
		FROM corridor_reliability WHERE origin = $1 AND destination = $2`,
		strings.ToUpper(origin), strings.ToUpper(destination),
	).Scan(&rec.Origin, &rec.Destination, &rec.AvgTransitDays, &rec.ReliabilityScore, &risk, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CorridorReliability{}, fmt.Errorf("postgres: corridor %s->%s: %w", origin, destination, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CorridorReliability{}, fmt.Errorf("postgres: get corridor %s->%s: %w", origin, destination, err)
	}
	rec.CustomsRisk = domain.RiskLevel(risk)
	return rec, nil
}

// UpsertReliability inserts or replaces the corridor row.
func (s *CorridorStore) UpsertReliability(ctx context.Context, rec domain.CorridorReliability) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO corridor_reliability (origin, destination, avg_transit_days, reliability_score, customs_risk, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (origin, destination) DO UPDATE SET
			avg_transit_days = EXCLUDED.avg_transit_days, reliability_score = EXCLUDED.reliability_score,
			customs_risk = EXCLUDED.customs_risk, updated_at = EXCLUDED.updated_at`,
		strings.ToUpper(rec.Origin), strings.ToUpper(rec.Destination), rec.AvgTransitDays,
		rec.ReliabilityScore, string(rec.CustomsRisk), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert corridor %s->%s: %w", rec.Origin, rec.Destination, err)
	}
	return nil
}

// SupplierReliability returns the supplier's delivery score. A supplier
// without one is ErrNotFound.
func (s *CorridorStore) SupplierReliability(ctx context.Context, supplierID string) (float64, error) {
	var score *float64
	err := s.pool.QueryRow(ctx, `SELECT supplier_score FROM counterparties WHERE id = $1`, supplierID).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && score == nil) {
		return 0, fmt.Errorf("postgres: supplier %s reliability: %w", supplierID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: supplier %s reliability: %w", supplierID, err)
	}
	return *score, nil
}

var (
	_ domain.TrustStore        = (*TrustStore)(nil)
	_ domain.CounterpartyStore = (*CounterpartyStore)(nil)
	_ domain.IdentityStore     = (*CounterpartyStore)(nil)
	_ domain.FraudStore        = (*FraudStore)(nil)
	_ domain.CorridorStore     = (*CorridorStore)(nil)
)
