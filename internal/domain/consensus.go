package domain

import (
	"slices"
	"time"
)

// Party is a consensus signer role.
type Party string

const (
	PartyInspection Party = "automated_inspection"
	PartyLogistics  Party = "logistics"
	PartyBuyer      Party = "buyer"
	PartySeller     Party = "seller"
)

// RequiredParties must all sign before funds may be released.
var RequiredParties = []Party{PartyInspection, PartyLogistics, PartyBuyer}

// Valid reports whether p is a known signer role.
func (p Party) Valid() bool {
	switch p {
	case PartyInspection, PartyLogistics, PartyBuyer, PartySeller:
		return true
	}
	return false
}

// Signature is one party's approval, recorded once.
type Signature struct {
	ID          string    `json:"id"`
	TradeID     string    `json:"trade_id"`
	Party       Party     `json:"party"`
	SignerID    string    `json:"signer_id"`
	Attestation string    `json:"attestation,omitempty"`
	SignedAt    time.Time `json:"signed_at"`
}

// ConsensusRecord collects signatures for a trade pending settlement.
// Whether consensus is reached is always derived from Signatures.
type ConsensusRecord struct {
	TradeID    string      `json:"trade_id"`
	Signatures []Signature `json:"signatures"`
	OpenedAt   time.Time   `json:"opened_at"`
	ConsumedAt *time.Time  `json:"consumed_at,omitempty"`
}

// Signed reports whether p has signed.
func (r ConsensusRecord) Signed(p Party) bool {
	return slices.ContainsFunc(r.Signatures, func(s Signature) bool { return s.Party == p })
}

// Reached reports whether every required party has signed.
func (r ConsensusRecord) Reached() bool {
	for _, p := range RequiredParties {
		if !r.Signed(p) {
			return false
		}
	}
	return true
}

// Pending lists the required parties that have not signed.
func (r ConsensusRecord) Pending() []Party {
	var out []Party
	for _, p := range RequiredParties {
		if !r.Signed(p) {
			out = append(out, p)
		}
	}
	return out
}

// ConsensusStatus is the read model returned to callers.
type ConsensusStatus struct {
	TradeID          string      `json:"trade_id"`
	BuyerSigned      bool        `json:"buyer_signed"`
	SellerSigned     bool        `json:"seller_signed"`
	LogisticsSigned  bool        `json:"logistics_signed"`
	InspectionSigned bool        `json:"ai_signed"`
	ConsensusReached bool        `json:"consensus_reached"`
	Consumed         bool        `json:"consumed"`
	Pending          []Party     `json:"pending"`
	Signatures       []Signature `json:"signatures"`
}

// Status derives the read model from r.
func (r ConsensusRecord) Status() ConsensusStatus {
	sigs := r.Signatures
	if sigs == nil {
		sigs = []Signature{}
	}
	return ConsensusStatus{
		TradeID:          r.TradeID,
		BuyerSigned:      r.Signed(PartyBuyer),
		SellerSigned:     r.Signed(PartySeller),
		LogisticsSigned:  r.Signed(PartyLogistics),
		InspectionSigned: r.Signed(PartyInspection),
		ConsensusReached: r.Reached(),
		Consumed:         r.ConsumedAt != nil,
		Pending:          r.Pending(),
		Signatures:       sigs,
	}
}
