package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrLockHeld      = errors.New("lock already held")
)

// Transition failure categories. Callers match these with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrPrecondition           = errors.New("precondition not met")
	ErrConsensusNotReached    = errors.New("consensus not reached")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrExternalDependency     = errors.New("external dependency unavailable")
)

// ErrIllegalTransition is a validation failure: the edge is not in the graph.
var ErrIllegalTransition = errors.New("transition not in state graph")

// Specific precondition failures.
var (
	ErrNoQuotes            = errors.New("no quotes recorded")
	ErrPaymentUnconfirmed  = errors.New("payment confirmation missing")
	ErrShipmentMissing     = errors.New("shipment reference missing")
	ErrDeliveryUnconfirmed = errors.New("delivery confirmation missing")
	ErrConsensusConsumed   = errors.New("consensus already consumed")
	ErrConsensusNotOpen    = errors.New("consensus not open for trade")
	ErrRFQClosed           = errors.New("rfq not open for quotes")
)

// TransitionError describes a rejected transition. It matches both its
// category (Kind) and, when set, the specific Cause.
type TransitionError struct {
	TradeID string
	From    TradeState
	To      TradeState
	Kind    error
	Cause   error
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("transition %s: %s -> %s: %s", e.TradeID, e.From, e.To, e.Kind)
	if e.Cause != nil && e.Cause != e.Kind {
		msg += ": " + e.Cause.Error()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Category returns the taxonomy bucket of err, or nil if err is not a
// recognised kernel failure.
func Category(err error) error {
	for _, c := range []error{
		ErrConsensusNotReached,
		ErrConcurrentModification,
		ErrValidation,
		ErrPrecondition,
		ErrUnauthorized,
		ErrForbidden,
		ErrNotFound,
		ErrExternalDependency,
	} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
