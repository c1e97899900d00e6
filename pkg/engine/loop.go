package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/normalize"
	"github.com/rhuss/verlauf/pkg/observability"
	"github.com/rhuss/verlauf/pkg/provider"
)

// TurnStatus reports how a turn that did not fail ended.
type TurnStatus string

const (
	StatusCompleted          TurnStatus = "completed"
	StatusToolBudgetExceeded TurnStatus = "tool_budget_exceeded"
)

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	// FinalText is the last assistant message of the turn. When the tool
	// budget ran out before the model answered, it is a synthesized
	// explanation that is not stored in the log.
	FinalText string `json:"final_text"`

	// Log is the full session log after the turn.
	Log []api.Item `json:"log"`

	// Appended holds the items this turn stored, with sequences assigned.
	Appended []api.Item `json:"appended"`

	Status TurnStatus `json:"status"`

	// ToolFailures holds the error-carrying tool outputs of the turn.
	ToolFailures []api.Item `json:"tool_failures,omitempty"`

	Agent      string     `json:"agent,omitempty"`
	RoundTrips int        `json:"round_trips"`
	ModelCalls int        `json:"model_calls"`
	Usage      *api.Usage `json:"usage,omitempty"`
}

// Err returns an error matching api.ErrToolBudgetExceeded when the turn
// ran out of tool round-trips, and nil otherwise.
func (r *TurnResult) Err() error {
	if r.Status != StatusToolBudgetExceeded {
		return nil
	}
	return api.NewToolBudgetExceededError(r.RoundTrips)
}

// RunTurn runs one conversational turn on the session. Events are handed
// to sink while the model streams; sink may be nil.
//
// The log is extended exactly once, after the last model call, with the
// input items, every completed item, and every tool output of the turn.
// When the model call fails or ctx is cancelled, the log is left as it was
// and the error is returned.
func (e *Engine) RunTurn(ctx context.Context, sessionID string, in Input, sink EventSink) (*TurnResult, error) {
	start := time.Now()
	if sink == nil {
		sink = Discard
	}

	prior, err := e.store.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, e.abort(ctx, sessionID, err)
	}
	h, err := buildHistory(prior, in)
	if err != nil {
		return nil, e.abort(ctx, sessionID, err)
	}

	t := e.newTurn(h, sink, currentAgent(h.input, e.cfg.agentName()))
	debug.Log("engine", "turn started", "session", sessionID, "prior_items", len(prior),
		"input_items", len(h.input), "agent", t.norm.Agent())

	if err := t.run(ctx); err != nil {
		return nil, e.abort(ctx, sessionID, err)
	}
	if err := contextError(ctx); err != nil {
		return nil, e.abort(ctx, sessionID, err)
	}

	var stored []api.Item
	if len(t.pending) > 0 {
		stored, err = e.store.Append(ctx, sessionID, t.pending)
		if err != nil {
			return nil, e.abort(ctx, sessionID, err)
		}
	}
	// The items are stored; a failed re-read must not report the turn as
	// failed, or a retry would append them again.
	log, err := e.store.Snapshot(ctx, sessionID)
	if err != nil {
		slog.Warn("reading log after append failed, using prior log",
			"session", sessionID, "appended", len(stored), "error", err)
		log = append(api.CloneItems(prior), stored...)
	}

	result := t.result(log, stored)
	observability.TurnsTotal.WithLabelValues(string(result.Status)).Inc()
	observability.TurnDuration.Observe(time.Since(start).Seconds())
	observability.ToolRoundTrips.Observe(float64(result.RoundTrips))

	if result.Status == StatusToolBudgetExceeded {
		slog.Warn("turn ended on tool budget",
			"session", sessionID,
			"round_trips", result.RoundTrips,
			"limit", e.cfg.maxRoundTrips(),
		)
	}
	debug.Log("engine", "turn finished", "session", sessionID, "status", result.Status,
		"model_calls", result.ModelCalls, "round_trips", result.RoundTrips,
		"appended", len(stored), "duration", time.Since(start))
	return result, nil
}

func (e *Engine) abort(ctx context.Context, sessionID string, err error) error {
	status := "error"
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		status = "cancelled"
	}
	observability.TurnsTotal.WithLabelValues(status).Inc()
	debug.Log("engine", "turn aborted", "session", sessionID, "status", status, "error", err)
	return err
}

// sinkError marks an error returned by the caller's sink so it is not
// mistaken for a model failure.
type sinkError struct {
	err error
}

func (e *sinkError) Error() string { return "event sink: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// turn is the state of one RunTurn call.
type turn struct {
	e    *Engine
	sink EventSink
	norm *normalize.Normalizer

	state api.TurnState

	// input is what the next model call sees; pending is what the turn
	// will append.
	input   []api.Item
	pending []api.Item
	// first is the index in pending of the first model-produced item.
	first int

	calls      map[string]bool
	answered   map[string]bool
	unresolved []api.Item

	roundTrips int
	modelCalls int
	failures   []api.Item
	usage      *api.Usage
}

func (e *Engine) newTurn(h *history, sink EventSink, agent string) *turn {
	t := &turn{
		e:        e,
		sink:     sink,
		norm:     normalize.New(agent),
		input:    h.input,
		pending:  api.CloneItems(h.appended),
		first:    len(h.appended),
		calls:    make(map[string]bool),
		answered: make(map[string]bool),
	}
	for _, item := range h.input {
		t.track(item)
	}
	return t
}

func (t *turn) transition(to api.TurnState) error {
	if err := api.ValidateTurnTransition(t.state, to); err != nil {
		return err
	}
	debug.Log("engine", "turn state", "from", t.state, "to", to)
	t.state = to
	return nil
}

// run drives the state machine to a terminal state. Every pass through
// ResolvingTool either ends the turn or resolves at least one call, so the
// number of transitions is bounded by the budget.
func (t *turn) run(ctx context.Context) error {
	if err := t.transition(api.TurnAwaitingModel); err != nil {
		return err
	}

	maxSteps := 2*t.e.cfg.maxRoundTrips() + 2
	for step := 0; !t.state.Terminal(); step++ {
		if step >= maxSteps {
			return fmt.Errorf("engine: turn exceeded %d state transitions", maxSteps)
		}

		var next api.TurnState
		switch t.state {
		case api.TurnAwaitingModel:
			if err := t.callModel(ctx); err != nil {
				return err
			}
			next = api.TurnDone
			if len(t.unresolved) > 0 {
				next = api.TurnResolvingTool
			}

		case api.TurnResolvingTool:
			var err error
			if next, err = t.resolveTools(ctx); err != nil {
				return err
			}
		}

		if err := t.transition(next); err != nil {
			return err
		}
	}
	return nil
}

// callModel streams one model call into the pending list.
func (t *turn) callModel(ctx context.Context) error {
	e := t.e
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := &provider.Request{
		Model:        e.cfg.Model,
		Instructions: e.cfg.Instructions,
		Temperature:  e.cfg.Temperature,
		Input:        t.input[:len(t.input):len(t.input)],
		Tools:        e.resolver.Registry().Declarations(),
	}

	t.modelCalls++
	mark := len(t.pending)
	start := time.Now()

	ch, err := e.provider.Stream(callCtx, req)
	if err == nil {
		err = t.norm.Drain(callCtx, ch, func(ev api.StreamEvent) error {
			return t.accept(ctx, ev)
		})
	}
	// Stops the provider goroutine when the drain ended early.
	cancel()

	err = modelError(ctx, err)
	e.observeModelCall(start, err, t.norm.TakeUsage(), t)
	if err != nil {
		return err
	}

	t.unresolved = api.PendingToolCalls(t.pending[mark:])
	debug.Log("engine", "model call finished", "call", t.modelCalls,
		"items", len(t.pending)-mark, "tool_calls", len(t.unresolved))
	return nil
}

// modelError classifies an error from one model call.
func modelError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var se *sinkError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, api.ErrModelCall) {
		return err
	}
	return api.NewModelCallError(err)
}

// contextError returns nil while ctx is live. A passed deadline counts as
// a failed model call; cancellation is returned as is.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return api.NewModelCallError(err)
	}
	return err
}

func (e *Engine) observeModelCall(start time.Time, err error, usage *api.Usage, t *turn) {
	name := e.provider.Name()
	model := e.cfg.Model

	status := "success"
	switch {
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	observability.ModelCallsTotal.WithLabelValues(name, model, status).Inc()
	observability.ModelLatency.WithLabelValues(name, model).Observe(time.Since(start).Seconds())

	if usage == nil {
		return
	}
	observability.ModelTokensTotal.WithLabelValues(name, model, "input").Add(float64(usage.InputTokens))
	observability.ModelTokensTotal.WithLabelValues(name, model, "output").Add(float64(usage.OutputTokens))
	if t.usage == nil {
		t.usage = &api.Usage{}
	}
	t.usage.Add(*usage)
}

// accept takes one normalized event into the turn and forwards it to the
// sink. Tool outputs without a matching call and repeated calls are
// dropped so the log stays consistent.
func (t *turn) accept(ctx context.Context, ev api.StreamEvent) error {
	switch ev.Type {
	case api.EventItemCompleted:
		item := *ev.Item
		if !t.admit(item) {
			return nil
		}
		t.add(item)

	case api.EventHandoffOccurred:
		t.add(api.NewHandoff(ev.FromAgent, ev.ToAgent))
	}

	if err := t.sink.Emit(ctx, ev); err != nil {
		return &sinkError{err: err}
	}
	return nil
}

func (t *turn) admit(item api.Item) bool {
	switch {
	case item.ToolCall != nil:
		if t.calls[item.ToolCall.CallID] {
			slog.Warn("dropping repeated tool call", "call_id", item.ToolCall.CallID, "tool", item.ToolCall.ToolName)
			return false
		}
	case item.ToolOutput != nil:
		id := item.ToolOutput.CallID
		if !t.calls[id] || t.answered[id] {
			slog.Warn("dropping tool output without open call", "call_id", id)
			return false
		}
	}
	return true
}

func (t *turn) add(item api.Item) {
	t.pending = append(t.pending, item)
	t.input = append(t.input, item)
	t.track(item)
}

func (t *turn) track(item api.Item) {
	switch {
	case item.ToolCall != nil:
		t.calls[item.ToolCall.CallID] = true
	case item.ToolOutput != nil:
		t.answered[item.ToolOutput.CallID] = true
	}
}

// resolveTools resolves the open calls of the last model call within the
// remaining budget and picks the next state.
func (t *turn) resolveTools(ctx context.Context) (api.TurnState, error) {
	if err := contextError(ctx); err != nil {
		return "", err
	}

	calls := t.unresolved
	t.unresolved = nil

	var dropped []api.Item
	if remaining := t.e.cfg.maxRoundTrips() - t.roundTrips; len(calls) > remaining {
		calls, dropped = calls[:remaining], calls[remaining:]
	}

	for _, out := range t.e.resolveAll(ctx, calls) {
		t.add(out)
		if out.Failed() {
			t.failures = append(t.failures, out)
		}
		if err := t.sink.Emit(ctx, api.ItemCompleted(out)); err != nil {
			return "", &sinkError{err: err}
		}
	}
	t.roundTrips += len(calls)

	if len(dropped) > 0 {
		t.drop(dropped)
		return api.TurnBudgetExceeded, nil
	}
	return api.TurnAwaitingModel, nil
}

// drop removes unresolved calls so the stored log never holds a call
// without its output.
func (t *turn) drop(calls []api.Item) {
	ids := make(map[string]bool, len(calls))
	for _, c := range calls {
		ids[c.ToolCall.CallID] = true
		delete(t.calls, c.ToolCall.CallID)
		debug.Log("engine", "dropping tool call over budget", "tool", c.ToolCall.ToolName, "call_id", c.ToolCall.CallID)
	}
	keep := func(items []api.Item) []api.Item {
		out := items[:0:0]
		for _, item := range items {
			if item.ToolCall != nil && ids[item.ToolCall.CallID] {
				continue
			}
			out = append(out, item)
		}
		return out
	}
	t.pending = keep(t.pending)
	t.input = keep(t.input)
}

// resolveAll resolves calls, concurrently when configured. Outputs are
// returned in call order.
func (e *Engine) resolveAll(ctx context.Context, calls []api.Item) []api.Item {
	outputs := make([]api.Item, len(calls))
	if !e.cfg.ParallelToolCalls || len(calls) < 2 {
		for i, call := range calls {
			outputs[i] = e.resolveOne(ctx, call)
		}
		return outputs
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outputs[i] = e.resolveOne(ctx, call)
		}()
	}
	wg.Wait()
	return outputs
}

func (e *Engine) resolveOne(ctx context.Context, call api.Item) api.Item {
	out, apiErr := e.resolver.Resolve(ctx, call)
	if apiErr != nil {
		debug.Log("engine", "tool call failed", "tool", call.ToolCall.ToolName,
			"call_id", call.ToolCall.CallID, "error", apiErr.Message)
	}
	return out
}

func (t *turn) result(log, stored []api.Item) *TurnResult {
	r := &TurnResult{
		Log:          log,
		Appended:     stored,
		Status:       StatusCompleted,
		ToolFailures: t.failures,
		Agent:        t.norm.Agent(),
		RoundTrips:   t.roundTrips,
		ModelCalls:   t.modelCalls,
		Usage:        t.usage,
	}
	if t.state == api.TurnBudgetExceeded {
		r.Status = StatusToolBudgetExceeded
	}

	for i := len(t.pending) - 1; i >= t.first; i-- {
		if t.pending[i].Kind == api.KindAssistantMessage {
			r.FinalText = t.pending[i].Text()
			return r
		}
	}
	if r.Status == StatusToolBudgetExceeded {
		r.FinalText = fmt.Sprintf("I stopped after %d tool calls without reaching an answer. Please narrow the request and try again.", t.roundTrips)
	}
	return r
}
