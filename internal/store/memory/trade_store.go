package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	db *DB
}

// Create stores a new trade with its creation event.
func (s *TradeStore) Create(_ context.Context, trade domain.Trade, created domain.TradeEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.trades[trade.ID]; ok {
		return fmt.Errorf("memory: create trade %s: %w", trade.ID, domain.ErrAlreadyExists)
	}
	s.db.trades[trade.ID] = cloneTrade(trade)
	s.db.appendLocked(created)
	return nil
}

// GetByID returns a copy of the trade.
func (s *TradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	t, ok := s.db.trades[id]
	if !ok {
		return domain.Trade{}, fmt.Errorf("memory: trade %s: %w", id, domain.ErrNotFound)
	}
	return cloneTrade(t), nil
}

// ApplyTransition writes the next trade and its events under the DB lock.
// It fails without writing when the version moved, an idempotency key was
// used, or the consensus to consume is missing, spent or incomplete.
func (s *TradeStore) ApplyTransition(_ context.Context, w domain.TransitionWrite) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	id := w.Trade.ID
	cur, ok := s.db.trades[id]
	if !ok {
		return fmt.Errorf("memory: trade %s: %w", id, domain.ErrNotFound)
	}
	if cur.Version != w.ExpectedVersion {
		return fmt.Errorf("memory: trade %s at version %d, expected %d: %w",
			id, cur.Version, w.ExpectedVersion, domain.ErrConcurrentModification)
	}
	for _, ev := range w.Events {
		if ev.IdempotencyKey != "" && s.db.hasKeyLocked(id, ev.IdempotencyKey) {
			return fmt.Errorf("memory: trade %s key %s: %w", id, ev.IdempotencyKey, domain.ErrAlreadyExists)
		}
	}

	var consumed *domain.ConsensusRecord
	if w.ConsumeConsensus {
		rec, ok := s.db.consensus[id]
		switch {
		case !ok:
			return fmt.Errorf("memory: trade %s: %w", id, domain.ErrConsensusNotOpen)
		case rec.ConsumedAt != nil:
			return fmt.Errorf("memory: trade %s: %w", id, domain.ErrConsensusConsumed)
		case !rec.Reached():
			return fmt.Errorf("memory: trade %s: %w", id, domain.ErrConsensusNotReached)
		}
		at := w.Trade.UpdatedAt
		rec = cloneConsensus(rec)
		rec.ConsumedAt = &at
		consumed = &rec
	}

	next := cloneTrade(w.Trade)
	// Matched suppliers are owned by AddQuote.
	next.MatchedSupplierIDs = slices.Clone(cur.MatchedSupplierIDs)
	s.db.trades[id] = next
	for _, ev := range w.Events {
		s.db.appendLocked(ev)
	}
	if w.OpenConsensus {
		if _, ok := s.db.consensus[id]; !ok {
			s.db.consensus[id] = domain.ConsensusRecord{TradeID: id, OpenedAt: w.Trade.UpdatedAt}
		}
	}
	if consumed != nil {
		s.db.consensus[id] = *consumed
	}
	return nil
}

// AppendEvent appends a standalone event such as a rejection.
func (s *TradeStore) AppendEvent(_ context.Context, ev domain.TradeEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if ev.IdempotencyKey != "" && s.db.hasKeyLocked(ev.TradeID, ev.IdempotencyKey) {
		return fmt.Errorf("memory: trade %s key %s: %w", ev.TradeID, ev.IdempotencyKey, domain.ErrAlreadyExists)
	}
	s.db.appendLocked(ev)
	return nil
}

// ListEvents pages a trade's events in write order.
func (s *TradeStore) ListEvents(_ context.Context, tradeID string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []domain.TradeEvent
	for _, ev := range s.db.events[tradeID] {
		if inRange(ev.CreatedAt, opts) {
			out = append(out, ev)
		}
	}
	return slices.Clone(page(out, opts)), nil
}

// FindEventByIdempotencyKey returns the trade's event carrying key.
func (s *TradeStore) FindEventByIdempotencyKey(_ context.Context, tradeID, key string) (domain.TradeEvent, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, ev := range s.db.events[tradeID] {
		if ev.IdempotencyKey == key {
			return ev, nil
		}
	}
	return domain.TradeEvent{}, fmt.Errorf("memory: trade %s key %s: %w", tradeID, key, domain.ErrNotFound)
}

// AddQuote records q, matches its supplier and appends ev, provided the
// trade still accepts quotes.
func (s *TradeStore) AddQuote(_ context.Context, q domain.Quote, ev domain.TradeEvent) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	t, ok := s.db.trades[q.TradeID]
	if !ok {
		return fmt.Errorf("memory: trade %s: %w", q.TradeID, domain.ErrNotFound)
	}
	if !t.State.AcceptsQuotes() {
		return fmt.Errorf("memory: trade %s is %s: %w: %w", q.TradeID, t.State, domain.ErrPrecondition, domain.ErrRFQClosed)
	}
	s.db.quotes[q.TradeID] = append(s.db.quotes[q.TradeID], q)
	if !t.HasSupplier(q.SupplierID) {
		t = cloneTrade(t)
		t.MatchedSupplierIDs = append(t.MatchedSupplierIDs, q.SupplierID)
		s.db.trades[q.TradeID] = t
	}
	s.db.appendLocked(ev)
	return nil
}

// GetQuote returns one of a trade's quotes.
func (s *TradeStore) GetQuote(_ context.Context, tradeID, quoteID string) (domain.Quote, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, q := range s.db.quotes[tradeID] {
		if q.ID == quoteID {
			return q, nil
		}
	}
	return domain.Quote{}, fmt.Errorf("memory: quote %s: %w", quoteID, domain.ErrNotFound)
}

// ListQuotes returns a trade's quotes oldest first.
func (s *TradeStore) ListQuotes(_ context.Context, tradeID string) ([]domain.Quote, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return slices.Clone(s.db.quotes[tradeID]), nil
}

// ListIDsByState pages ids of trades in state by updated_at, then id.
func (s *TradeStore) ListIDsByState(_ context.Context, state domain.TradeState, opts domain.ListOpts) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var matched []domain.Trade
	for _, t := range s.db.trades {
		if t.State == state && inRange(t.UpdatedAt, opts) {
			matched = append(matched, t)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Trade) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	matched = page(matched, opts)
	ids := make([]string, len(matched))
	for i, t := range matched {
		ids[i] = t.ID
	}
	return ids, nil
}

func (db *DB) appendLocked(ev domain.TradeEvent) {
	db.seq++
	ev.Seq = db.seq
	db.events[ev.TradeID] = append(db.events[ev.TradeID], ev)
}

func (db *DB) hasKeyLocked(tradeID, key string) bool {
	return slices.ContainsFunc(db.events[tradeID], func(ev domain.TradeEvent) bool {
		return ev.IdempotencyKey == key
	})
}

var _ domain.TradeStore = (*TradeStore)(nil)
