package domain

import (
	"strings"
	"time"
)

// EventType tags a trade event.
type EventType string

const (
	EventTradeCreated       EventType = "trade_created"
	EventQuoteSubmitted     EventType = "quote_submitted"
	EventTransitionRejected EventType = "transition_rejected"
	EventHighRiskTransition EventType = "high_risk_transition"
	EventFraudAlert         EventType = "fraud_alert"
	EventConsensusSigned    EventType = "consensus_signed"
	EventConsensusRequested EventType = "consensus_requested"
)

const transitionPrefix = "trade."

// TransitionEventType is the event type recorded when a trade enters to.
func TransitionEventType(to TradeState) EventType {
	return EventType(transitionPrefix + string(to))
}

// IsTransition reports whether t records an accepted state change.
func (t EventType) IsTransition() bool {
	return strings.HasPrefix(string(t), transitionPrefix)
}

// TradeEvent is an immutable fact in a trade's history.
type TradeEvent struct {
	ID             string         `json:"id"`
	TradeID        string         `json:"trade_id"`
	Seq            int64          `json:"seq"`
	Type           EventType      `json:"type"`
	ActorID        string         `json:"actor_id"`
	ActorRole      Role           `json:"actor_role"`
	FromState      TradeState     `json:"from_state,omitempty"`
	ToState        TradeState     `json:"to_state,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
