package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// plan checks req against cur and returns the trade record to persist,
// without State, Version or UpdatedAt advanced. Rejections are
// *domain.TransitionError; anything else is an infrastructure failure.
func (k *Kernel) plan(ctx context.Context, cur domain.Trade, req TransitionRequest) (domain.Trade, error) {
	if req.Payload == nil {
		return domain.Trade{}, k.fail(cur, req, domain.ErrValidation, nil, "payload is required")
	}
	if req.Payload.Target() != req.Target {
		return domain.Trade{}, k.fail(cur, req, domain.ErrValidation, nil,
			fmt.Sprintf("payload drives %q, not %q", req.Payload.Target(), req.Target))
	}
	if !CanTransition(cur.State, req.Target, cur.DisputedFrom) {
		return domain.Trade{}, k.fail(cur, req, domain.ErrValidation, domain.ErrIllegalTransition,
			fmt.Sprintf("allowed from %s: %v", cur.State, AllowedTargets(cur.State, cur.DisputedFrom)))
	}
	if err := req.Payload.Validate(); err != nil {
		return domain.Trade{}, k.fail(cur, req, domain.ErrValidation, nil, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
	}
	if reason, kind := authorize(cur, req); kind != nil {
		return domain.Trade{}, k.fail(cur, req, kind, nil, reason)
	}

	t := cur
	now := k.now()
	switch p := req.Payload.(type) {
	case domain.PublishRFQ:
		var missing []string
		if t.Title == "" {
			missing = append(missing, "title")
		}
		if t.Description == "" {
			missing = append(missing, "description")
		}
		if t.Quantity <= 0 {
			missing = append(missing, "quantity > 0")
		}
		if len(missing) > 0 {
			return domain.Trade{}, k.fail(cur, req, domain.ErrValidation, nil, "rfq requires "+strings.Join(missing, ", "))
		}
		t.PublishedAt = &now

	case domain.MarkQuoted:
		quotes, err := k.trades.ListQuotes(ctx, t.ID)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("kernel: list quotes: %w", err)
		}
		if len(quotes) == 0 {
			return domain.Trade{}, k.fail(cur, req, domain.ErrPrecondition, domain.ErrNoQuotes, "")
		}

	case domain.SelectQuote:
		q, err := k.trades.GetQuote(ctx, t.ID, p.QuoteID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, k.fail(cur, req, domain.ErrValidation, nil,
				fmt.Sprintf("quote %s is not a quote of this trade", p.QuoteID))
		}
		if err != nil {
			return domain.Trade{}, fmt.Errorf("kernel: get quote: %w", err)
		}
		t.SelectedQuoteID = q.ID
		t.SellerID = q.SupplierID
		t.UnitPrice = q.UnitPrice
		t.TotalAmount = q.UnitPrice * t.Quantity
		t.LeadTimeDays = q.LeadTimeDays
		t.Terms = q.Terms
		if q.Currency != "" {
			t.Currency = q.Currency
		}
		t.ContractedAt = &now

	case domain.ConfirmEscrow:
		if strings.TrimSpace(p.PaymentRef) == "" {
			return domain.Trade{}, k.fail(cur, req, domain.ErrPrecondition, domain.ErrPaymentUnconfirmed, "payment_ref is required")
		}
		if p.Amount > 0 && t.TotalAmount > 0 && p.Amount < t.TotalAmount {
			return domain.Trade{}, k.fail(cur, req, domain.ErrPrecondition, domain.ErrPaymentUnconfirmed,
				fmt.Sprintf("confirmed amount %.2f is below contract total %.2f", p.Amount, t.TotalAmount))
		}
		t.PaymentRef = p.PaymentRef

	case domain.Dispatch:
		if strings.TrimSpace(p.ShipmentRef) == "" {
			return domain.Trade{}, k.fail(cur, req, domain.ErrPrecondition, domain.ErrShipmentMissing, "shipment_ref is required")
		}
		t.ShipmentRef = p.ShipmentRef

	case domain.ConfirmDelivery:
		if strings.TrimSpace(p.DeliveryRef) == "" {
			return domain.Trade{}, k.fail(cur, req, domain.ErrPrecondition, domain.ErrDeliveryUnconfirmed, "delivery_ref is required")
		}
		t.DeliveryRef = p.DeliveryRef

	case domain.Settle:
		rec, err := k.consensus.Get(ctx, t.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return domain.Trade{}, k.fail(cur, req, domain.ErrPrecondition, domain.ErrConsensusNotReached, "consensus was never opened")
		case err != nil:
			return domain.Trade{}, fmt.Errorf("kernel: read consensus: %w", err)
		case rec.ConsumedAt != nil:
			return domain.Trade{}, k.fail(cur, req, domain.ErrPrecondition, domain.ErrConsensusConsumed, "")
		case !rec.Reached():
			return domain.Trade{}, k.fail(cur, req, domain.ErrPrecondition, domain.ErrConsensusNotReached,
				fmt.Sprintf("pending %v", rec.Pending()))
		}
		t.SettledAt = &now

	case domain.RaiseDispute:
		t.DisputedFrom = cur.State

	case domain.ResolveDispute, domain.Refund, domain.Cancel:
		t.DisputedFrom = ""
	}
	return t, nil
}

// authorize applies the per-edge actor rules and returns a reason with the
// failure category. A missing actor is ErrUnauthorized; an actor the
// edge does not admit is ErrForbidden. Admins may drive any edge; only
// admins may leave disputed.
func authorize(t domain.Trade, req TransitionRequest) (string, error) {
	a := req.Actor
	if a.ID == "" || a.Role == "" {
		return "actor id and role are required", domain.ErrUnauthorized
	}
	if a.Role == domain.RoleAdmin {
		return "", nil
	}
	if t.State == domain.StateDisputed {
		return "only an admin may resolve a dispute", domain.ErrForbidden
	}

	buyer := a.Role == domain.RoleBuyer && a.ID == t.BuyerID
	seller := a.Role == domain.RoleSeller && t.SellerID != "" && a.ID == t.SellerID
	system := a.Role == domain.RoleSystem

	switch req.Target {
	case domain.StateRFQOpen, domain.StateContracted:
		if !buyer {
			return "only the trade's buyer may do this", domain.ErrForbidden
		}
	case domain.StateQuoted, domain.StateEscrowFunded:
		if !buyer && !system {
			return "only the buyer or the system may do this", domain.ErrForbidden
		}
	case domain.StateInTransit:
		if !seller && a.Role != domain.RoleLogistics && !system {
			return "dispatch is confirmed by the seller or logistics", domain.ErrForbidden
		}
	case domain.StateDelivered:
		if !buyer && a.Role != domain.RoleLogistics && !system {
			return "delivery is confirmed by logistics or the buyer", domain.ErrForbidden
		}
	case domain.StateSettled:
		if !buyer && !system {
			return "settlement is released by the buyer or the system", domain.ErrForbidden
		}
	case domain.StateDisputed:
		if !buyer && !seller {
			return "disputes are raised by a party to the trade", domain.ErrForbidden
		}
	case domain.StateRefunded:
		if !system {
			return "refunds are issued by an admin or the system", domain.ErrForbidden
		}
	case domain.StateCancelled:
		if !buyer || t.PaymentRef != "" {
			return "the buyer may cancel only before escrow is funded", domain.ErrForbidden
		}
	}
	return "", nil
}
