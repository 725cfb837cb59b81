package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// ConsensusStore implements domain.ConsensusStore.
type ConsensusStore struct {
	db *DB
}

// Get returns the trade's consensus record, or ErrNotFound before the
// trade is delivered.
func (s *ConsensusStore) Get(_ context.Context, tradeID string) (domain.ConsensusRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	rec, ok := s.db.consensus[tradeID]
	if !ok {
		return domain.ConsensusRecord{}, fmt.Errorf("memory: consensus %s: %w", tradeID, domain.ErrNotFound)
	}
	return cloneConsensus(rec), nil
}

// Sign adds sig and appends ev in one step. It reports false without
// writing when the party already signed, and ErrNotFound when consensus is
// not open.
func (s *ConsensusStore) Sign(_ context.Context, sig domain.Signature, ev domain.TradeEvent) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	rec, ok := s.db.consensus[sig.TradeID]
	if !ok {
		return false, fmt.Errorf("memory: consensus %s: %w", sig.TradeID, domain.ErrNotFound)
	}
	if rec.Signed(sig.Party) {
		return false, nil
	}
	rec = cloneConsensus(rec)
	rec.Signatures = append(rec.Signatures, sig)
	s.db.consensus[sig.TradeID] = rec
	s.db.appendLocked(ev)
	return true, nil
}

var _ domain.ConsensusStore = (*ConsensusStore)(nil)
