package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, state, version, buyer_id, seller_id, title, description,
	quantity, unit, currency, origin, destination,
	selected_quote_id, unit_price, total_amount, lead_time_days, terms,
	payment_ref, shipment_ref, delivery_ref, disputed_from,
	matched_supplier_ids, metadata, published_at, contracted_at, settled_at,
	created_at, updated_at`

const eventCols = `seq, id, trade_id, type, actor_id, actor_role, from_state, to_state,
	payload, COALESCE(idempotency_key, ''), created_at`

const quoteCols = `id, trade_id, supplier_id, unit_price, currency, lead_time_days, terms, created_at`

const idempotencyIndex = "uq_trade_events_idempotency"

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t            domain.Trade
		state, from  string
		metadataJSON []byte
	)
	err := row.Scan(
		&t.ID, &state, &t.Version, &t.BuyerID, &t.SellerID, &t.Title, &t.Description,
		&t.Quantity, &t.Unit, &t.Currency, &t.Origin, &t.Destination,
		&t.SelectedQuoteID, &t.UnitPrice, &t.TotalAmount, &t.LeadTimeDays, &t.Terms,
		&t.PaymentRef, &t.ShipmentRef, &t.DeliveryRef, &from,
		&t.MatchedSupplierIDs, &metadataJSON, &t.PublishedAt, &t.ContractedAt, &t.SettledAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.State = domain.TradeState(state)
	t.DisputedFrom = domain.TradeState(from)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if t.MatchedSupplierIDs == nil {
		t.MatchedSupplierIDs = []string{}
	}
	return t, nil
}

func scanEvent(row pgx.Row) (domain.TradeEvent, error) {
	var (
		ev                  domain.TradeEvent
		typ, role, from, to string
		payloadJSON         []byte
	)
	err := row.Scan(&ev.Seq, &ev.ID, &ev.TradeID, &typ, &ev.ActorID, &role, &from, &to,
		&payloadJSON, &ev.IdempotencyKey, &ev.CreatedAt)
	if err != nil {
		return domain.TradeEvent{}, err
	}
	ev.Type = domain.EventType(typ)
	ev.ActorRole = domain.Role(role)
	ev.FromState = domain.TradeState(from)
	ev.ToState = domain.TradeState(to)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return domain.TradeEvent{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return ev, nil
}

func scanQuote(row pgx.Row) (domain.Quote, error) {
	var q domain.Quote
	err := row.Scan(&q.ID, &q.TradeID, &q.SupplierID, &q.UnitPrice, &q.Currency,
		&q.LeadTimeDays, &q.Terms, &q.CreatedAt)
	return q, err
}

func insertEvent(ctx context.Context, q querier, ev domain.TradeEvent) error {
	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	var key *string
	if ev.IdempotencyKey != "" {
		key = &ev.IdempotencyKey
	}
	_, err = q.Exec(ctx, `
		INSERT INTO trade_events (id, trade_id, type, actor_id, actor_role, from_state, to_state, payload, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.TradeID, string(ev.Type), ev.ActorID, string(ev.ActorRole),
		string(ev.FromState), string(ev.ToState), payloadJSON, key, ev.CreatedAt,
	)
	if isUniqueViolation(err, idempotencyIndex) {
		return fmt.Errorf("idempotency key %s: %w", ev.IdempotencyKey, domain.ErrAlreadyExists)
	}
	return err
}

// Create inserts a new trade together with its creation event.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade, created domain.TradeEvent) error {
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal trade metadata: %w", err)
	}
	err = withTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO trades (`+tradeCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`,
			t.ID, string(t.State), t.Version, t.BuyerID, t.SellerID, t.Title, t.Description,
			t.Quantity, t.Unit, t.Currency, t.Origin, t.Destination,
			t.SelectedQuoteID, t.UnitPrice, t.TotalAmount, t.LeadTimeDays, t.Terms,
			t.PaymentRef, t.ShipmentRef, t.DeliveryRef, string(t.DisputedFrom),
			nonNilStrings(t.MatchedSupplierIDs), metadataJSON, t.PublishedAt, t.ContractedAt, t.SettledAt,
			t.CreatedAt, t.UpdatedAt,
		)
		if isUniqueViolation(err, "trades_pkey") {
			return domain.ErrAlreadyExists
		}
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, created)
	})
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns a trade by id.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ApplyTransition writes the new trade row, its events and any consensus
// change in one transaction. The row is only updated while its version
// still equals w.ExpectedVersion; matched_supplier_ids is left to AddQuote.
func (s *TradeStore) ApplyTransition(ctx context.Context, w domain.TransitionWrite) error {
	t := w.Trade
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE trades SET
				state = $3, version = $4, seller_id = $5,
				selected_quote_id = $6, unit_price = $7, total_amount = $8, lead_time_days = $9, terms = $10,
				currency = $11, payment_ref = $12, shipment_ref = $13, delivery_ref = $14, disputed_from = $15,
				published_at = $16, contracted_at = $17, settled_at = $18, updated_at = $19
			WHERE id = $1 AND version = $2`,
			t.ID, w.ExpectedVersion, string(t.State), t.Version, t.SellerID,
			t.SelectedQuoteID, t.UnitPrice, t.TotalAmount, t.LeadTimeDays, t.Terms,
			t.Currency, t.PaymentRef, t.ShipmentRef, t.DeliveryRef, string(t.DisputedFrom),
			t.PublishedAt, t.ContractedAt, t.SettledAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update trade: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check trade: %w", err)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return fmt.Errorf("expected version %d: %w", w.ExpectedVersion, domain.ErrConcurrentModification)
		}

		if w.ConsumeConsensus {
			if err := consumeConsensus(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, ev := range w.Events {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		if w.OpenConsensus {
			if _, err := tx.Exec(ctx, `
				INSERT INTO consensus_records (trade_id, opened_at) VALUES ($1, $2)
				ON CONFLICT (trade_id) DO NOTHING`, t.ID, t.UpdatedAt); err != nil {
				return fmt.Errorf("open consensus: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: transition trade %s -> %s: %w", t.ID, t.State, err)
	}
	return nil
}

// consumeConsensus locks the record, re-derives reached from the signature
// rows and marks it consumed.
func consumeConsensus(ctx context.Context, tx pgx.Tx, t domain.Trade) error {
	rec, err := loadConsensus(ctx, tx, t.ID, true)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrConsensusNotOpen
	}
	if err != nil {
		return err
	}
	if rec.ConsumedAt != nil {
		return domain.ErrConsensusConsumed
	}
	if !rec.Reached() {
		return domain.ErrConsensusNotReached
	}
	if _, err := tx.Exec(ctx,
		`UPDATE consensus_records SET consumed_at = $2 WHERE trade_id = $1`, t.ID, t.UpdatedAt); err != nil {
		return fmt.Errorf("consume consensus: %w", err)
	}
	return nil
}

// AppendEvent writes a standalone event.
func (s *TradeStore) AppendEvent(ctx context.Context, ev domain.TradeEvent) error {
	if err := insertEvent(ctx, s.pool, ev); err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// ListEvents returns a trade's events in write order.
func (s *TradeStore) ListEvents(ctx context.Context, tradeID string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	query, args := listClause(`SELECT `+eventCols+` FROM trade_events WHERE trade_id = $1`,
		[]any{tradeID}, "created_at", "seq ASC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events %s: %w", tradeID, err)
	}
	defer rows.Close()

	var events []domain.TradeEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FindEventByIdempotencyKey returns the event written with key.
func (s *TradeStore) FindEventByIdempotencyKey(ctx context.Context, tradeID, key string) (domain.TradeEvent, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventCols+` FROM trade_events WHERE trade_id = $1 AND idempotency_key = $2`, tradeID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeEvent{}, fmt.Errorf("postgres: trade %s key %s: %w", tradeID, key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeEvent{}, fmt.Errorf("postgres: find event by key: %w", err)
	}
	return ev, nil
}

// AddQuote records q, matches its supplier to the trade and writes ev.
func (s *TradeStore) AddQuote(ctx context.Context, q domain.Quote, ev domain.TradeEvent) error {
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE trades SET matched_supplier_ids = CASE
				WHEN $2 = ANY(matched_supplier_ids) THEN matched_supplier_ids
				ELSE array_append(matched_supplier_ids, $2)
			END
			WHERE id = $1 AND state IN ('rfq_open', 'quoted')`, q.TradeID, q.SupplierID)
		if err != nil {
			return fmt.Errorf("match supplier: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var state string
			err := tx.QueryRow(ctx, `SELECT state FROM trades WHERE id = $1`, q.TradeID).Scan(&state)
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("check trade: %w", err)
			}
			return fmt.Errorf("trade is %s: %w: %w", state, domain.ErrPrecondition, domain.ErrRFQClosed)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO quotes (`+quoteCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			q.ID, q.TradeID, q.SupplierID, q.UnitPrice, q.Currency, q.LeadTimeDays, q.Terms, q.CreatedAt); err != nil {
			return fmt.Errorf("insert quote: %w", err)
		}
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return fmt.Errorf("postgres: add quote to %s: %w", q.TradeID, err)
	}
	return nil
}

// GetQuote returns one of a trade's quotes.
func (s *TradeStore) GetQuote(ctx context.Context, tradeID, quoteID string) (domain.Quote, error) {
	q, err := scanQuote(s.pool.QueryRow(ctx,
		`SELECT `+quoteCols+` FROM quotes WHERE trade_id = $1 AND id = $2`, tradeID, quoteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quote{}, fmt.Errorf("postgres: quote %s: %w", quoteID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("postgres: get quote %s: %w", quoteID, err)
	}
	return q, nil
}

// ListQuotes returns a trade's quotes oldest first.
func (s *TradeStore) ListQuotes(ctx context.Context, tradeID string) ([]domain.Quote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+quoteCols+` FROM quotes WHERE trade_id = $1 ORDER BY created_at, id`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list quotes %s: %w", tradeID, err)
	}
	defer rows.Close()

	var quotes []domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ domain.TradeStore = (*TradeStore)(nil)

// ListIDsByState pages trade ids in state ordered by updated_at.
func (s *TradeStore) ListIDsByState(ctx context.Context, state domain.TradeState, opts domain.ListOpts) ([]string, error) {
	query, args := listClause(`SELECT id FROM trades WHERE state = $1`, []any{string(state)}, "updated_at", "updated_at, id", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s trades: %w", state, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade ids: %w", err)
	}
	return ids, nil
}
