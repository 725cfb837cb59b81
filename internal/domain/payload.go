package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TransitionPayload is the typed input for one edge of the state graph.
// Each concrete type names the state it drives the trade into.
type TransitionPayload interface {
	Target() TradeState
	// Validate checks the payload's own fields. Facts that depend on the
	// trade record are checked by the kernel.
	Validate() error
}

type PublishRFQ struct{}

type MarkQuoted struct{}

type SelectQuote struct {
	QuoteID string `json:"quote_id"`
}

type ConfirmEscrow struct {
	PaymentRef string  `json:"payment_ref"`
	Provider   string  `json:"provider,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
}

type Dispatch struct {
	ShipmentRef string `json:"shipment_ref"`
	Carrier     string `json:"carrier,omitempty"`
}

type ConfirmDelivery struct {
	DeliveryRef string `json:"delivery_ref"`
	ReceivedBy  string `json:"received_by,omitempty"`
}

type Settle struct {
	Note string `json:"note,omitempty"`
}

type RaiseDispute struct {
	Reason string `json:"reason"`
}

// ResolveDispute returns a disputed trade to the state it was in when the
// dispute was raised.
type ResolveDispute struct {
	Resolution string `json:"resolution"`

	resumeTo TradeState
}

type Refund struct {
	Reason    string `json:"reason"`
	RefundRef string `json:"refund_ref,omitempty"`
}

type Cancel struct {
	Reason string `json:"reason,omitempty"`
}

func (PublishRFQ) Target() TradeState { return StateRFQOpen }
func (MarkQuoted) Target() TradeState { return StateQuoted }
func (SelectQuote) Target() TradeState { return StateContracted }
func (ConfirmEscrow) Target() TradeState { return StateEscrowFunded }
func (Dispatch) Target() TradeState { return StateInTransit }
func (ConfirmDelivery) Target() TradeState { return StateDelivered }
func (Settle) Target() TradeState { return StateSettled }
func (RaiseDispute) Target() TradeState { return StateDisputed }
func (p ResolveDispute) Target() TradeState { return p.resumeTo }
func (Refund) Target() TradeState { return StateRefunded }
func (Cancel) Target() TradeState { return StateCancelled }

func (PublishRFQ) Validate() error { return nil }
func (MarkQuoted) Validate() error { return nil }
func (Dispatch) Validate() error { return nil }
func (ConfirmDelivery) Validate() error { return nil }
func (Settle) Validate() error { return nil }
func (Cancel) Validate() error { return nil }

func (p ConfirmEscrow) Validate() error { return nonNegative("amount", p.Amount) }
func (p SelectQuote) Validate() error { return required("quote_id", p.QuoteID) }
func (p RaiseDispute) Validate() error { return required("reason", p.Reason) }
func (p ResolveDispute) Validate() error { return required("resolution", p.Resolution) }
func (p Refund) Validate() error { return required("reason", p.Reason) }

// NewResolveDispute builds a resolution payload resuming into to.
func NewResolveDispute(to TradeState, resolution string) ResolveDispute {
	return ResolveDispute{Resolution: resolution, resumeTo: to}
}

// DecodePayload parses raw into the payload type for the edge from -> to.
// Unknown fields are rejected. An empty body decodes to the zero payload.
func DecodePayload(from, to TradeState, raw []byte) (TransitionPayload, error) {
	var p TransitionPayload
	switch {
	case from == StateDisputed && to != StateRefunded && to != StateCancelled:
		var v ResolveDispute
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		v.resumeTo = to
		return v, nil
	case to == StateRFQOpen:
		p = &PublishRFQ{}
	case to == StateQuoted:
		p = &MarkQuoted{}
	case to == StateContracted:
		p = &SelectQuote{}
	case to == StateEscrowFunded:
		p = &ConfirmEscrow{}
	case to == StateInTransit:
		p = &Dispatch{}
	case to == StateDelivered:
		p = &ConfirmDelivery{}
	case to == StateSettled:
		p = &Settle{}
	case to == StateDisputed:
		p = &RaiseDispute{}
	case to == StateRefunded:
		p = &Refund{}
	case to == StateCancelled:
		p = &Cancel{}
	default:
		return nil, fmt.Errorf("%w: unknown target state %q", ErrValidation, to)
	}
	if err := decodeStrict(raw, p); err != nil {
		return nil, err
	}
	return deref(p), nil
}

// PayloadFields flattens p into the map stored on the transition event.
func PayloadFields(p TransitionPayload) map[string]any {
	out := map[string]any{}
	data, err := json.Marshal(p)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func decodeStrict(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: payload: %s", ErrValidation, err.Error())
	}
	return nil
}

func deref(p TransitionPayload) TransitionPayload {
	switch v := p.(type) {
	case *PublishRFQ:
		return *v
	case *MarkQuoted:
		return *v
	case *SelectQuote:
		return *v
	case *ConfirmEscrow:
		return *v
	case *Dispatch:
		return *v
	case *ConfirmDelivery:
		return *v
	case *Settle:
		return *v
	case *RaiseDispute:
		return *v
	case *Refund:
		return *v
	case *Cancel:
		return *v
	}
	return p
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	return nil
}

func nonNegative(field string, v float64) error {
	if v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrValidation, field)
	}
	return nil
}
