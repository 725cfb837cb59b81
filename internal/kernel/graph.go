package kernel

import (
	"fmt"
	"slices"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// next is the single forward edge out of each happy-path state.
var next = map[domain.TradeState]domain.TradeState{
	domain.StateDraft:        domain.StateRFQOpen,
	domain.StateRFQOpen:      domain.StateQuoted,
	domain.StateQuoted:       domain.StateContracted,
	domain.StateContracted:   domain.StateEscrowFunded,
	domain.StateEscrowFunded: domain.StateInTransit,
	domain.StateInTransit:    domain.StateDelivered,
	domain.StateDelivered:    domain.StateSettled,
}

// AllowedTargets lists the states a trade may move to from from. Leaving
// disputed is only possible back to disputedFrom or into refunded/cancelled.
func AllowedTargets(from, disputedFrom domain.TradeState) []domain.TradeState {
	switch {
	case from.Terminal():
		return nil
	case from == domain.StateDisputed:
		var out []domain.TradeState
		if disputedFrom != "" && disputedFrom != domain.StateDisputed && !disputedFrom.Terminal() {
			out = append(out, disputedFrom)
		}
		return append(out, domain.StateRefunded, domain.StateCancelled)
	}
	out := []domain.TradeState{}
	if n, ok := next[from]; ok {
		out = append(out, n)
	}
	return append(out, domain.StateDisputed, domain.StateRefunded, domain.StateCancelled)
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to, disputedFrom domain.TradeState) bool {
	return slices.Contains(AllowedTargets(from, disputedFrom), to)
}

// ValidateHistory checks that the transition events in events, in order,
// form a walk of the state graph starting at draft. Non-transition events
// are ignored.
func ValidateHistory(events []domain.TradeEvent) error {
	cur := domain.StateDraft
	var disputedFrom domain.TradeState
	for _, ev := range events {
		if !ev.Type.IsTransition() {
			continue
		}
		if ev.Type != domain.TransitionEventType(ev.ToState) {
			return fmt.Errorf("event %s: type %s does not match target %s", ev.ID, ev.Type, ev.ToState)
		}
		if ev.FromState != cur {
			return fmt.Errorf("event %s: starts at %s but trade was %s", ev.ID, ev.FromState, cur)
		}
		if !CanTransition(cur, ev.ToState, disputedFrom) {
			return fmt.Errorf("event %s: %s -> %s is not in the state graph", ev.ID, cur, ev.ToState)
		}
		if ev.ToState == domain.StateDisputed {
			disputedFrom = cur
		}
		cur = ev.ToState
	}
	return nil
}
