package api

import "fmt"

// TurnState is a state of the turn state machine.
type TurnState string

const (
	TurnAwaitingModel  TurnState = "awaiting_model"
	TurnResolvingTool  TurnState = "resolving_tool"
	TurnDone           TurnState = "done"
	TurnBudgetExceeded TurnState = "budget_exceeded"
)

// Terminal reports whether no transition may leave s.
func (s TurnState) Terminal() bool {
	return s == TurnDone || s == TurnBudgetExceeded
}

// ValidateTurnTransition checks whether a turn may move from one state to
// another. An empty "from" state is the initial state before the first
// model call. Done and BudgetExceeded are terminal.
func ValidateTurnTransition(from, to TurnState) error {
	valid := map[TurnState][]TurnState{
		"":                {TurnAwaitingModel},
		TurnAwaitingModel: {TurnResolvingTool, TurnDone},
		TurnResolvingTool: {TurnAwaitingModel, TurnBudgetExceeded},
	}

	for _, s := range valid[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid turn transition from %q to %q", from, to)
}
