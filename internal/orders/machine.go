package orders

import (
	"fmt"

	"tradegate/internal/models"
)

// ValidationError rejects bad input synchronously, before any state change.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// InvalidTransitionError means a caller asked the state machine for a move
// the transition table forbids. It signals a programming or data-integrity
// bug, not a retryable condition; the order is never mutated.
type InvalidTransitionError struct {
	OrderID uint64
	From    models.OrderState
	To      models.OrderState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}

// transitions is the explicit lifecycle table. Terminal states have no
// outgoing edges; every non-terminal state can reach every terminal state.
var transitions = map[models.OrderState][]models.OrderState{
	models.StateDraft: {
		models.StatePending, models.StateCanceled, models.StateRejected, models.StateExpired,
	},
	models.StatePending: {
		models.StateSubmitted, models.StateCanceled, models.StateRejected, models.StateExpired,
	},
	models.StateSubmitted: {
		models.StateAccepted, models.StatePartialFill, models.StateFilled,
		models.StateCanceled, models.StateRejected, models.StateExpired,
	},
	models.StateAccepted: {
		models.StatePartialFill, models.StateFilled,
		models.StateCanceled, models.StateRejected, models.StateExpired,
	},
	models.StatePartialFill: {
		models.StateAccepted, models.StateFilled,
		models.StateCanceled, models.StateRejected, models.StateExpired,
	},
	models.StateFilled:   {},
	models.StateCanceled: {},
	models.StateRejected: {},
	models.StateExpired:  {},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to models.OrderState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanCancel reports whether an order in the given state may be canceled.
func CanCancel(state models.OrderState) bool {
	return CanTransition(state, models.StateCanceled)
}

// CanAmend reports whether an order in the given state may be amended.
// Amend is cancel-then-recreate, so anything cancelable qualifies; the
// service additionally refuses orders that already have fills.
func CanAmend(state models.OrderState) bool {
	return CanCancel(state)
}
