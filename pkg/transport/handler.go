package transport

import (
	"context"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/engine"
)

// TurnRequest is the body of a turn request. Exactly one of Input and
// Items is set: Input appends a user message, Items replaces the history.
type TurnRequest struct {
	SessionID string     `json:"-"`
	Input     string     `json:"input,omitempty"`
	Items     []api.Item `json:"items,omitempty"`
}

// EngineInput converts the request into engine input.
func (r *TurnRequest) EngineInput() (engine.Input, error) {
	switch {
	case r.Input != "" && len(r.Items) > 0:
		return engine.Input{}, api.NewInvalidInputError("input", "set either input or items, not both")
	case len(r.Items) > 0:
		return engine.ItemsInput(r.Items), nil
	case r.Input != "":
		return engine.TextInput(r.Input), nil
	default:
		return engine.Input{}, api.NewInvalidInputError("input", "input or items is required")
	}
}

// TurnHandler runs one turn. Events are emitted to sink while the turn
// runs; the result is returned once the turn ends.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req *TurnRequest, sink engine.EventSink) (*engine.TurnResult, error)
}

// TurnHandlerFunc is an adapter that allows using an ordinary function
// as a TurnHandler.
type TurnHandlerFunc func(ctx context.Context, req *TurnRequest, sink engine.EventSink) (*engine.TurnResult, error)

// HandleTurn calls f(ctx, req, sink).
func (f TurnHandlerFunc) HandleTurn(ctx context.Context, req *TurnRequest, sink engine.EventSink) (*engine.TurnResult, error) {
	return f(ctx, req, sink)
}

// Sessions is the engine surface served over HTTP. *engine.Engine
// implements it.
type Sessions interface {
	RunTurn(ctx context.Context, sessionID string, in engine.Input, sink engine.EventSink) (*engine.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*api.Session, error)
	History(ctx context.Context, sessionID string) ([]api.Item, error)
	Clear(ctx context.Context, sessionID string) error
	CloseSession(ctx context.Context, sessionID string) error
	HealthCheck(ctx context.Context) error
}

var _ Sessions = (*engine.Engine)(nil)

// RunTurns returns the TurnHandler that runs turns on s.
func RunTurns(s Sessions) TurnHandler {
	return TurnHandlerFunc(func(ctx context.Context, req *TurnRequest, sink engine.EventSink) (*engine.TurnResult, error) {
		in, err := req.EngineInput()
		if err != nil {
			return nil, err
		}
		return s.RunTurn(ctx, req.SessionID, in, sink)
	})
}

// ItemList is the JSON shape of a session log.
type ItemList struct {
	Object  string     `json:"object"`
	Data    []api.Item `json:"data"`
	FirstID string     `json:"first_id,omitempty"`
	LastID  string     `json:"last_id,omitempty"`
}

// NewItemList wraps items for JSON output.
func NewItemList(items []api.Item) *ItemList {
	list := &ItemList{Object: "list", Data: items}
	if list.Data == nil {
		list.Data = []api.Item{}
	}
	if len(items) > 0 {
		list.FirstID = items[0].ID
		list.LastID = items[len(items)-1].ID
	}
	return list
}
