// Package engine implements the turn coordinator. A turn takes a session's
// log, extends it with new user input, streams one or more model calls
// through the normalizer, resolves the tool calls the model asks for, and
// appends everything the turn produced to the session store in one atomic
// step.
//
// A turn is driven by an explicit state machine (see api.TurnState):
//
//	"" -> AwaitingModel -> Done
//	        ^      |
//	        |      v
//	      ResolvingTool -> BudgetExceeded
//
// Every tool call the engine resolves is one round-trip. When the budget
// is spent and the model still asks for tools, the unresolved calls are
// dropped and the turn ends with StatusToolBudgetExceeded. Model failures
// and cancellation leave the log exactly as it was before the turn.
package engine
