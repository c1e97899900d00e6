package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/provider"
	"github.com/rhuss/verlauf/pkg/provider/dryrun"
	"github.com/rhuss/verlauf/pkg/storage/memory"
	"github.com/rhuss/verlauf/pkg/tools"
)

// step produces the raw events of one model call.
type step func(req *provider.Request) []provider.RawEvent

// scriptedProvider replays one step per model call and records the
// requests it saw. Calls past the script answer with "done".
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	requests []*provider.Request
	err      error
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Close() error { return nil }

func (p *scriptedProvider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.RawEvent, error) {
	p.mu.Lock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	events := reply("done")
	if i < len(p.steps) {
		events = p.steps[i](req)
	}

	ch := make(chan provider.RawEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) *provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// reply builds the events of a plain text answer.
func reply(text string) []provider.RawEvent {
	var events []provider.RawEvent
	for _, w := range strings.SplitAfter(text, " ") {
		events = append(events, provider.NewEvent(provider.EventOutputTextDelta, provider.TextDeltaData{Delta: w}))
	}
	events = append(events, messageDone(text))
	return append(events, completed(3, 2))
}

func messageDone(text string) provider.RawEvent {
	content, _ := json.Marshal(text)
	return provider.NewEvent(provider.EventOutputItemDone, provider.OutputItemData{
		Item: provider.WireItem{ID: api.NewItemID(), Type: "message", Role: "assistant", Content: content},
	})
}

func callDone(name, callID, args string) provider.RawEvent {
	return provider.NewEvent(provider.EventOutputItemDone, provider.OutputItemData{
		Item: provider.WireItem{ID: api.NewItemID(), Type: "function_call", Name: name, CallID: callID, Arguments: args},
	})
}

func outputDone(callID, output string) provider.RawEvent {
	return provider.NewEvent(provider.EventOutputItemDone, provider.OutputItemData{
		Item: provider.WireItem{ID: api.NewItemID(), Type: "function_call_output", CallID: callID, Output: output},
	})
}

func completed(in, out int) provider.RawEvent {
	var data provider.ResponseData
	data.Response.Status = "completed"
	data.Response.Usage = &provider.WireUsage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	return provider.NewEvent(provider.EventResponseCompleted, data)
}

func failed(msg string) provider.RawEvent {
	var data provider.ResponseData
	data.Response.Status = "failed"
	data.Response.Error = &provider.WireError{Message: msg}
	return provider.NewEvent(provider.EventResponseFailed, data)
}

// toolCall answers with one tool call and no text.
func toolCall(name, callID, args string) step {
	return func(*provider.Request) []provider.RawEvent {
		return []provider.RawEvent{callDone(name, callID, args), completed(1, 1)}
	}
}

func say(text string) step {
	return func(*provider.Request) []provider.RawEvent { return reply(text) }
}

// echoTool returns its raw arguments.
func echoTool() tools.Binding {
	return tools.Binding{
		Name:        "echo",
		Description: "Echo the arguments.",
		Invoke: func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
}

func newTestEngine(t *testing.T, p provider.Provider, cfg Config, bindings ...tools.Binding) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New(0)
	eng, err := New(p, store, tools.NewResolver(tools.NewRegistry(bindings...), 0), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng, store
}

func kinds(items []api.Item) []api.ItemKind {
	out := make([]api.ItemKind, len(items))
	for i, item := range items {
		out[i] = item.Kind
	}
	return out
}

func assertKinds(t *testing.T, items []api.Item, want ...api.ItemKind) {
	t.Helper()
	got := kinds(items)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
}

func assertGapless(t *testing.T, items []api.Item) {
	t.Helper()
	for i, item := range items {
		if item.Sequence != int64(i+1) {
			t.Fatalf("item %d has sequence %d, want %d", i, item.Sequence, i+1)
		}
	}
	if err := api.ValidateLog(items); err != nil {
		t.Fatalf("log invalid: %v", err)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, memory.New(0), nil, Config{}); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := New(&scriptedProvider{}, nil, nil, Config{}); err == nil {
		t.Error("expected error for nil store")
	}

	eng, err := New(&scriptedProvider{}, memory.New(0), nil, Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if eng.resolver == nil || eng.resolver.Registry().Len() != 0 {
		t.Error("nil resolver should become an empty one")
	}
	if eng.Config().maxRoundTrips() != DefaultMaxToolRoundTrips {
		t.Errorf("maxRoundTrips = %d", eng.Config().maxRoundTrips())
	}
}

func TestRunTurnSimpleReply(t *testing.T) {
	p := &scriptedProvider{steps: []step{say("Hello there!")}}
	eng, _ := newTestEngine(t, p, Config{Model: "test-model", Instructions: "Be brief.", AgentName: "Assistant"})

	var sink Collector
	res, err := eng.RunTurn(context.Background(), "s1", TextInput("Hi"), &sink)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if res.FinalText != "Hello there!" {
		t.Errorf("FinalText = %q", res.FinalText)
	}
	if res.Status != StatusCompleted || res.Err() != nil {
		t.Errorf("Status = %q, Err = %v", res.Status, res.Err())
	}
	if res.ModelCalls != 1 || res.RoundTrips != 0 {
		t.Errorf("ModelCalls = %d, RoundTrips = %d", res.ModelCalls, res.RoundTrips)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 5 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	assertKinds(t, res.Log, api.KindUserMessage, api.KindAssistantMessage)
	assertGapless(t, res.Log)
	if len(res.Appended) != 2 || res.Appended[1].Message.Agent != "Assistant" {
		t.Errorf("Appended = %+v", res.Appended)
	}

	if sink.Text() != "Hello there!" {
		t.Errorf("streamed text = %q", sink.Text())
	}
	last := sink.Events[len(sink.Events)-1]
	if last.Type != api.EventItemCompleted || last.Item.Kind != api.KindAssistantMessage {
		t.Errorf("last event = %+v", last)
	}

	req := p.request(0)
	if req.Model != "test-model" || req.Instructions != "Be brief." {
		t.Errorf("request = %+v", req)
	}
	assertKinds(t, req.Input, api.KindUserMessage)
}

func TestRunTurnCarriesHistory(t *testing.T) {
	p := &scriptedProvider{steps: []step{say("one"), say("two")}}
	eng, _ := newTestEngine(t, p, Config{})
	ctx := context.Background()

	if _, err := eng.RunTurn(ctx, "s1", TextInput("first"), nil); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	res, err := eng.RunTurn(ctx, "s1", TextInput("second"), nil)
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	assertKinds(t, p.request(1).Input,
		api.KindUserMessage, api.KindAssistantMessage, api.KindUserMessage)
	assertKinds(t, res.Log,
		api.KindUserMessage, api.KindAssistantMessage, api.KindUserMessage, api.KindAssistantMessage)
	assertGapless(t, res.Log)

	// The earlier items are untouched.
	if res.Log[0].Text() != "first" || res.Log[1].Text() != "one" {
		t.Errorf("prefix changed: %q %q", res.Log[0].Text(), res.Log[1].Text())
	}
}

func TestScenarioRememberNamePerSession(t *testing.T) {
	eng, _ := newTestEngine(t, dryrun.New(dryrun.Config{}), Config{AgentName: "Assistant"})
	ctx := context.Background()

	res, err := eng.RunTurn(ctx, "s1", TextInput("my name is Taro, remember it"), nil)
	if err != nil {
		t.Fatalf("s1 turn 1: %v", err)
	}
	if len(res.Log) < 2 {
		t.Fatalf("log has %d items, want at least 2", len(res.Log))
	}

	res, err = eng.RunTurn(ctx, "s1", TextInput("what is my name?"), nil)
	if err != nil {
		t.Fatalf("s1 turn 2: %v", err)
	}
	if !strings.Contains(res.FinalText, "Taro") {
		t.Errorf("s1 answer = %q, want it to mention Taro", res.FinalText)
	}

	res, err = eng.RunTurn(ctx, "s2", TextInput("what is my name?"), nil)
	if err != nil {
		t.Fatalf("s2 turn: %v", err)
	}
	if strings.Contains(res.FinalText, "Taro") {
		t.Errorf("s2 answer = %q, leaked from s1", res.FinalText)
	}
}

func TestScenarioUnknownToolRecovers(t *testing.T) {
	p := &scriptedProvider{steps: []step{
		toolCall("foo", "call_foo", `{}`),
		func(req *provider.Request) []provider.RawEvent {
			last := req.Input[len(req.Input)-1]
			return reply("Tool said: " + last.ToolOutput.Output)
		},
	}}
	eng, _ := newTestEngine(t, p, Config{})

	res, err := eng.RunTurn(context.Background(), "s1", TextInput("use foo"), nil)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	assertKinds(t, res.Log, api.KindUserMessage, api.KindToolCall, api.KindToolOutput, api.KindAssistantMessage)
	out := res.Log[2].ToolOutput
	if out.CallID != "call_foo" || out.Error == nil || out.Error.Type != api.ErrorTypeUnknownTool {
		t.Errorf("tool output = %+v", out)
	}
	if res.FinalText == "" || res.Status != StatusCompleted {
		t.Errorf("FinalText = %q, Status = %q", res.FinalText, res.Status)
	}
	if len(res.ToolFailures) != 1 || !errors.Is(res.ToolFailures[0].ToolOutput.Error, api.ErrUnknownTool) {
		t.Errorf("ToolFailures = %+v", res.ToolFailures)
	}
}

func TestScenarioBudgetExceeded(t *testing.T) {
	// The model asks for another tool call every time.
	n := 0
	always := func(*provider.Request) []provider.RawEvent {
		n++
		return []provider.RawEvent{callDone("echo", fmt.Sprintf("call_%d", n), `{"n":1}`), completed(1, 1)}
	}
	p := &scriptedProvider{steps: []step{always, always, always, always}}
	eng, _ := newTestEngine(t, p, Config{MaxToolRoundTrips: 2}, echoTool())

	res, err := eng.RunTurn(context.Background(), "s1", TextInput("loop forever"), nil)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if res.Status != StatusToolBudgetExceeded {
		t.Errorf("Status = %q", res.Status)
	}
	if !errors.Is(res.Err(), api.ErrToolBudgetExceeded) {
		t.Errorf("Err() = %v", res.Err())
	}
	if res.RoundTrips != 2 || p.calls() != 3 {
		t.Errorf("RoundTrips = %d, model calls = %d", res.RoundTrips, p.calls())
	}

	assertKinds(t, res.Log,
		api.KindUserMessage,
		api.KindToolCall, api.KindToolOutput,
		api.KindToolCall, api.KindToolOutput)
	assertGapless(t, res.Log)
	if !strings.Contains(res.FinalText, "2 tool calls") {
		t.Errorf("FinalText = %q", res.FinalText)
	}
}

func TestSessionPassThroughs(t *testing.T) {
	p := &scriptedProvider{steps: []step{say("a"), say("b")}}
	eng, _ := newTestEngine(t, p, Config{})
	ctx := context.Background()

	sess, err := eng.Session(ctx, "s1")
	if err != nil || sess.ID != "s1" || len(sess.Log) != 0 {
		t.Fatalf("Session = %+v, %v", sess, err)
	}
	if _, err := eng.RunTurn(ctx, "s1", TextInput("hello"), nil); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if err := eng.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	items, err := eng.History(ctx, "s1")
	if err != nil || len(items) != 0 {
		t.Fatalf("History after clear = %d items, %v", len(items), err)
	}

	// Sequences restart at 1 after a clear.
	res, err := eng.RunTurn(ctx, "s1", TextInput("again"), nil)
	if err != nil {
		t.Fatalf("RunTurn after clear: %v", err)
	}
	assertGapless(t, res.Log)

	if err := eng.CloseSession(ctx, "s1"); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if _, err := eng.RunTurn(ctx, "s1", TextInput("hi"), nil); !errors.Is(err, api.ErrSessionClosed) {
		t.Errorf("RunTurn on closed session: err = %v", err)
	}
	if _, err := eng.RunTurn(ctx, "s2", TextInput("hi"), nil); err != nil {
		t.Errorf("other sessions stay usable: %v", err)
	}
}

func TestConcurrentSessionsIsolated(t *testing.T) {
	eng, _ := newTestEngine(t, dryrun.New(dryrun.Config{}), Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			for turn := range 3 {
				if _, err := eng.RunTurn(ctx, id, TextInput(fmt.Sprintf("%s turn %d", id, turn)), nil); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("RunTurn failed: %v", err)
	}

	for i := range 8 {
		id := fmt.Sprintf("s%d", i)
		items, err := eng.History(ctx, id)
		if err != nil {
			t.Fatalf("History(%s): %v", id, err)
		}
		if len(items) != 6 {
			t.Errorf("%s has %d items, want 6", id, len(items))
		}
		assertGapless(t, items)
		for _, item := range items {
			if item.Kind == api.KindUserMessage && !strings.HasPrefix(item.Text(), id+" ") {
				t.Errorf("%s holds foreign item %q", id, item.Text())
			}
		}
	}
}
