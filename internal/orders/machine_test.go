package orders

import (
	"testing"

	"tradegate/internal/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from models.OrderState
		to   models.OrderState
		want bool
	}{
		{models.StateDraft, models.StatePending, true},
		{models.StatePending, models.StateSubmitted, true},
		{models.StateSubmitted, models.StateAccepted, true},
		{models.StateSubmitted, models.StateFilled, true},
		{models.StateAccepted, models.StatePartialFill, true},
		{models.StatePartialFill, models.StateFilled, true},
		{models.StatePartialFill, models.StateAccepted, true},
		{models.StateAccepted, models.StateCanceled, true},
		{models.StateDraft, models.StateRejected, true},
		{models.StatePending, models.StateExpired, true},

		{models.StateDraft, models.StateSubmitted, false},
		{models.StateDraft, models.StateAccepted, false},
		{models.StateAccepted, models.StateDraft, false},
		{models.StateFilled, models.StateCanceled, false},
		{models.StateCanceled, models.StatePending, false},
		{models.StateRejected, models.StateDraft, false},
		{models.StateExpired, models.StateExpired, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	terminals := []models.OrderState{
		models.StateFilled, models.StateCanceled, models.StateRejected, models.StateExpired,
	}
	all := []models.OrderState{
		models.StateDraft, models.StatePending, models.StateSubmitted,
		models.StateAccepted, models.StatePartialFill, models.StateFilled,
		models.StateCanceled, models.StateRejected, models.StateExpired,
	}
	for _, from := range terminals {
		if !from.Terminal() {
			t.Fatalf("%s should report Terminal()", from)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal state %s allows transition to %s", from, to)
			}
		}
	}
}

func TestCanCancel(t *testing.T) {
	if !CanCancel(models.StateAccepted) {
		t.Fatal("ACCEPTED should be cancelable")
	}
	if !CanCancel(models.StatePartialFill) {
		t.Fatal("PARTIAL_FILL should be cancelable")
	}
	if CanCancel(models.StateFilled) {
		t.Fatal("FILLED should not be cancelable")
	}
	if CanCancel(models.StateCanceled) {
		t.Fatal("CANCELED should not be cancelable")
	}
}
