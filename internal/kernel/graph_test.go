package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

func TestAllowedTargets(t *testing.T) {
	require := require.New(t)

	require.Equal([]domain.TradeState{
		domain.StateRFQOpen, domain.StateDisputed, domain.StateRefunded, domain.StateCancelled,
	}, AllowedTargets(domain.StateDraft, ""))

	require.Equal([]domain.TradeState{
		domain.StateSettled, domain.StateDisputed, domain.StateRefunded, domain.StateCancelled,
	}, AllowedTargets(domain.StateDelivered, ""))

	require.Equal([]domain.TradeState{
		domain.StateInTransit, domain.StateRefunded, domain.StateCancelled,
	}, AllowedTargets(domain.StateDisputed, domain.StateInTransit))

	for _, s := range []domain.TradeState{domain.StateSettled, domain.StateRefunded, domain.StateCancelled} {
		require.Empty(AllowedTargets(s, ""), s)
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	require := require.New(t)
	require.True(CanTransition(domain.StateContracted, domain.StateEscrowFunded, ""))
	require.False(CanTransition(domain.StateContracted, domain.StateSettled, ""))
	require.False(CanTransition(domain.StateDraft, domain.StateQuoted, ""))
	require.False(CanTransition(domain.StateDisputed, domain.StateSettled, domain.StateInTransit))
	require.False(CanTransition(domain.StateDisputed, domain.StateDisputed, domain.StateDraft))
}

func transitionEvent(from, to domain.TradeState) domain.TradeEvent {
	return domain.TradeEvent{ID: string(from) + ">" + string(to), Type: domain.TransitionEventType(to), FromState: from, ToState: to}
}

func TestValidateHistory(t *testing.T) {
	require := require.New(t)

	var happy []domain.TradeEvent
	happy = append(happy, domain.TradeEvent{Type: domain.EventTradeCreated})
	for i := 0; i+1 < len(domain.ForwardStates); i++ {
		happy = append(happy, transitionEvent(domain.ForwardStates[i], domain.ForwardStates[i+1]))
		happy = append(happy, domain.TradeEvent{Type: domain.EventHighRiskTransition})
	}
	require.NoError(ValidateHistory(happy))

	disputed := []domain.TradeEvent{
		transitionEvent(domain.StateDraft, domain.StateRFQOpen),
		transitionEvent(domain.StateRFQOpen, domain.StateDisputed),
		transitionEvent(domain.StateDisputed, domain.StateRFQOpen),
		transitionEvent(domain.StateRFQOpen, domain.StateCancelled),
	}
	require.NoError(ValidateHistory(disputed))

	require.Error(ValidateHistory([]domain.TradeEvent{
		transitionEvent(domain.StateDraft, domain.StateQuoted),
	}))
	require.Error(ValidateHistory([]domain.TradeEvent{
		transitionEvent(domain.StateDraft, domain.StateRFQOpen),
		transitionEvent(domain.StateQuoted, domain.StateContracted),
	}))
	require.Error(ValidateHistory([]domain.TradeEvent{
		transitionEvent(domain.StateDraft, domain.StateDisputed),
		transitionEvent(domain.StateDisputed, domain.StateRFQOpen),
	}))
}
