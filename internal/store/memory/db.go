// Package memory is an in-process implementation of the domain stores. It
// backs the "memory" store driver and the test suites.
package memory

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// Counterparty is the seed record for a counterparty. Settled trades and
// disputes recorded in the DB are added to the prior counts.
type Counterparty struct {
	ID              string
	Email           string
	Verified        bool
	BankingVerified bool
	KYCApproved     bool
	Active          bool
	RegisteredAt    time.Time
	PriorSettled    int
	PriorDisputes   int
	SupplierScore   *float64
}

// DB holds every table. All stores created from the same DB share state and
// a single mutex, so multi-table writes are atomic.
type DB struct {
	mu sync.Mutex

	trades    map[string]domain.Trade
	events    map[string][]domain.TradeEvent
	quotes    map[string][]domain.Quote
	consensus map[string]domain.ConsensusRecord
	seq       int64

	trust          map[string]domain.TrustScore
	counterparties map[string]Counterparty
	users          map[string]string // user id -> email
	findings       []domain.FraudFinding
	corridors      map[string]domain.CorridorReliability
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		trades:         make(map[string]domain.Trade),
		events:         make(map[string][]domain.TradeEvent),
		quotes:         make(map[string][]domain.Quote),
		consensus:      make(map[string]domain.ConsensusRecord),
		trust:          make(map[string]domain.TrustScore),
		counterparties: make(map[string]Counterparty),
		users:          make(map[string]string),
		corridors:      make(map[string]domain.CorridorReliability),
	}
}

// PutCounterparty seeds or replaces a counterparty.
func (db *DB) PutCounterparty(c Counterparty) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.counterparties[c.ID] = c
}

// PutUser seeds a user's contact email.
func (db *DB) PutUser(userID, email string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[userID] = email
}

// Trades returns the TradeStore view.
func (db *DB) Trades() *TradeStore { return &TradeStore{db: db} }

// Consensus returns the ConsensusStore view.
func (db *DB) Consensus() *ConsensusStore { return &ConsensusStore{db: db} }

// Trust returns the TrustStore view.
func (db *DB) Trust() *TrustStore { return &TrustStore{db: db} }

// Counterparties returns the CounterpartyStore and IdentityStore view.
func (db *DB) Counterparties() *CounterpartyStore { return &CounterpartyStore{db: db} }

// Fraud returns the FraudStore view.
func (db *DB) Fraud() *FraudStore { return &FraudStore{db: db} }

// Corridors returns the CorridorStore view.
func (db *DB) Corridors() *CorridorStore { return &CorridorStore{db: db} }

func cloneTrade(t domain.Trade) domain.Trade {
	t.MatchedSupplierIDs = slices.Clone(t.MatchedSupplierIDs)
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

func cloneConsensus(r domain.ConsensusRecord) domain.ConsensusRecord {
	r.Signatures = slices.Clone(r.Signatures)
	return r
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

func inRange(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}
