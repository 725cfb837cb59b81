package domain

import (
	"slices"
	"strings"
	"time"
)

// TradeState is a position in the trade lifecycle graph.
type TradeState string

const (
	StateDraft        TradeState = "draft"
	StateRFQOpen      TradeState = "rfq_open"
	StateQuoted       TradeState = "quoted"
	StateContracted   TradeState = "contracted"
	StateEscrowFunded TradeState = "escrow_funded"
	StateInTransit    TradeState = "in_transit"
	StateDelivered    TradeState = "delivered"
	StateSettled      TradeState = "settled"
	StateDisputed     TradeState = "disputed"
	StateRefunded     TradeState = "refunded"
	StateCancelled    TradeState = "cancelled"
)

// ForwardStates is the happy path in order.
var ForwardStates = []TradeState{
	StateDraft,
	StateRFQOpen,
	StateQuoted,
	StateContracted,
	StateEscrowFunded,
	StateInTransit,
	StateDelivered,
	StateSettled,
}

// ParseTradeState normalises s and reports whether it names a known state.
func ParseTradeState(s string) (TradeState, bool) {
	st := TradeState(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Valid reports whether s is a known state.
func (s TradeState) Valid() bool {
	switch s {
	case StateDraft, StateRFQOpen, StateQuoted, StateContracted, StateEscrowFunded,
		StateInTransit, StateDelivered, StateSettled, StateDisputed, StateRefunded, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s TradeState) Terminal() bool {
	return s == StateSettled || s == StateRefunded || s == StateCancelled
}

// AcceptsQuotes reports whether suppliers may quote in this state.
func (s TradeState) AcceptsQuotes() bool {
	return s == StateRFQOpen || s == StateQuoted
}

// Role identifies the capacity in which an actor performs an action.
type Role string

const (
	RoleBuyer      Role = "buyer"
	RoleSeller     Role = "seller"
	RoleLogistics  Role = "logistics"
	RoleInspection Role = "inspection"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

// Actor is whoever is driving a kernel operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Trade is the unit of commerce moving through the lifecycle kernel.
type Trade struct {
	ID          string     `json:"id"`
	State       TradeState `json:"state"`
	Version     int64      `json:"version"`
	BuyerID     string     `json:"buyer_id"`
	SellerID    string     `json:"seller_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Quantity    float64    `json:"quantity"`
	Unit        string     `json:"unit"`
	Currency    string     `json:"currency"`
	Origin      string     `json:"origin,omitempty"`
	Destination string     `json:"destination,omitempty"`

	// Frozen from the selected quote on contracting.
	SelectedQuoteID string  `json:"selected_quote_id,omitempty"`
	UnitPrice       float64 `json:"unit_price,omitempty"`
	TotalAmount     float64 `json:"total_amount,omitempty"`
	LeadTimeDays    int     `json:"lead_time_days,omitempty"`
	Terms           string  `json:"terms,omitempty"`

	PaymentRef  string `json:"payment_ref,omitempty"`
	ShipmentRef string `json:"shipment_ref,omitempty"`
	DeliveryRef string `json:"delivery_ref,omitempty"`

	// DisputedFrom is the state a dispute interrupted; empty unless disputed.
	DisputedFrom TradeState `json:"disputed_from,omitempty"`

	MatchedSupplierIDs []string       `json:"matched_supplier_ids"`
	Metadata           map[string]any `json:"metadata,omitempty"`

	PublishedAt  *time.Time `json:"published_at,omitempty"`
	ContractedAt *time.Time `json:"contracted_at,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasSupplier reports whether supplierID has been matched to the trade.
func (t Trade) HasSupplier(supplierID string) bool {
	return slices.Contains(t.MatchedSupplierIDs, supplierID)
}

// Counterparties returns the buyer and, once contracted, the seller.
func (t Trade) Counterparties() []string {
	ids := []string{t.BuyerID}
	if t.SellerID != "" {
		ids = append(ids, t.SellerID)
	}
	return ids
}

// Quote is a supplier's offer against an open RFQ.
type Quote struct {
	ID           string    `json:"id"`
	TradeID      string    `json:"trade_id"`
	SupplierID   string    `json:"supplier_id"`
	UnitPrice    float64   `json:"unit_price"`
	Currency     string    `json:"currency"`
	LeadTimeDays int       `json:"lead_time_days"`
	Terms        string    `json:"terms,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
