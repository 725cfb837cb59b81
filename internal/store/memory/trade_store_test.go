package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

func TestAddQuoteChecksStateUnderLock(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := New().Trades()
	now := time.Now().UTC()

	tr := domain.Trade{ID: "t1", State: domain.StateRFQOpen, Version: 1, BuyerID: "buyer-1", CreatedAt: now, UpdatedAt: now}
	require.NoError(s.Create(ctx, tr, domain.TradeEvent{ID: "c", TradeID: "t1", Type: domain.EventTradeCreated}))

	quote := func(id string) error {
		return s.AddQuote(ctx,
			domain.Quote{ID: id, TradeID: "t1", SupplierID: "supplier-1", UnitPrice: 10, CreatedAt: now},
			domain.TradeEvent{ID: "ev-" + id, TradeID: "t1", Type: domain.EventQuoteSubmitted, CreatedAt: now})
	}
	require.NoError(quote("q1"))

	// The trade contracts between the kernel's read and the quote write.
	next := tr
	next.State = domain.StateContracted
	next.Version = 2
	require.NoError(s.ApplyTransition(ctx, domain.TransitionWrite{
		Trade:           next,
		ExpectedVersion: 1,
		Events: []domain.TradeEvent{{
			ID: "ev-contract", TradeID: "t1", Type: domain.TransitionEventType(domain.StateContracted),
			FromState: domain.StateRFQOpen, ToState: domain.StateContracted,
		}},
	}))

	err := quote("q2")
	require.ErrorIs(err, domain.ErrPrecondition)
	require.ErrorIs(err, domain.ErrRFQClosed)

	quotes, err := s.ListQuotes(ctx, "t1")
	require.NoError(err)
	require.Len(quotes, 1)

	require.ErrorIs(s.AddQuote(ctx, domain.Quote{TradeID: "nope"}, domain.TradeEvent{}), domain.ErrNotFound)
}
