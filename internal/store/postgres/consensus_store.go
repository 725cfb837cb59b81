package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// ConsensusStore implements domain.ConsensusStore using PostgreSQL.
type ConsensusStore struct {
	pool *pgxpool.Pool
}

// NewConsensusStore creates a ConsensusStore backed by pool.
func NewConsensusStore(pool *pgxpool.Pool) *ConsensusStore {
	return &ConsensusStore{pool: pool}
}

func loadConsensus(ctx context.Context, q querier, tradeID string, forUpdate bool) (domain.ConsensusRecord, error) {
	query := `SELECT trade_id, opened_at, consumed_at FROM consensus_records WHERE trade_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var rec domain.ConsensusRecord
	err := q.QueryRow(ctx, query, tradeID).Scan(&rec.TradeID, &rec.OpenedAt, &rec.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConsensusRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ConsensusRecord{}, fmt.Errorf("get consensus: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, trade_id, party, signer_id, attestation, signed_at
		FROM consensus_signatures WHERE trade_id = $1 ORDER BY signed_at, id`, tradeID)
	if err != nil {
		return domain.ConsensusRecord{}, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sig   domain.Signature
			party string
		)
		if err := rows.Scan(&sig.ID, &sig.TradeID, &party, &sig.SignerID, &sig.Attestation, &sig.SignedAt); err != nil {
			return domain.ConsensusRecord{}, fmt.Errorf("scan signature: %w", err)
		}
		sig.Party = domain.Party(party)
		rec.Signatures = append(rec.Signatures, sig)
	}
	return rec, rows.Err()
}

// Get returns the consensus record for a trade.
func (s *ConsensusStore) Get(ctx context.Context, tradeID string) (domain.ConsensusRecord, error) {
	rec, err := loadConsensus(ctx, s.pool, tradeID, false)
	if err != nil {
		return domain.ConsensusRecord{}, fmt.Errorf("postgres: consensus %s: %w", tradeID, err)
	}
	return rec, nil
}

// Sign inserts sig and ev unless the party has already signed. The
// (trade_id, party) unique key makes concurrent duplicate signs no-ops.
func (s *ConsensusStore) Sign(ctx context.Context, sig domain.Signature, ev domain.TradeEvent) (bool, error) {
	var applied bool
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO consensus_signatures (id, trade_id, party, signer_id, attestation, signed_at)
			SELECT $1, trade_id, $3, $4, $5, $6 FROM consensus_records WHERE trade_id = $2
			ON CONFLICT (trade_id, party) DO NOTHING`,
			sig.ID, sig.TradeID, string(sig.Party), sig.SignerID, sig.Attestation, sig.SignedAt)
		if err != nil {
			return fmt.Errorf("insert signature: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var open bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM consensus_records WHERE trade_id = $1)`, sig.TradeID).Scan(&open); err != nil {
				return fmt.Errorf("check consensus: %w", err)
			}
			if !open {
				return domain.ErrNotFound
			}
			return nil
		}
		applied = true
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return false, fmt.Errorf("postgres: sign %s/%s: %w", sig.TradeID, sig.Party, err)
	}
	return applied, nil
}

var _ domain.ConsensusStore = (*ConsensusStore)(nil)
