package api

import (
	"errors"
	"testing"
)

func sequenced(items ...Item) []Item {
	for i := range items {
		items[i].Sequence = int64(i + 1)
	}
	return items
}

func TestValidateItem(t *testing.T) {
	tests := []struct {
		name      string
		item      Item
		wantParam string
	}{
		{"user message", NewUserMessage("hi"), ""},
		{"tool call", NewToolCall("add", "call_1", "{}"), ""},
		{"unknown kind", Item{Kind: "bogus", Message: &MessagePayload{}}, "kind"},
		{"no payload", Item{Kind: KindUserMessage}, "kind"},
		{
			"two payloads",
			Item{Kind: KindUserMessage, Message: &MessagePayload{}, Reasoning: &ReasoningPayload{}},
			"kind",
		},
		{"mismatched payload", Item{Kind: KindToolCall, Message: &MessagePayload{}}, "tool_call"},
		{
			"tool call without call id",
			Item{Kind: KindToolCall, ToolCall: &ToolCallPayload{ToolName: "add"}},
			"tool_call.call_id",
		},
		{
			"tool call without name",
			Item{Kind: KindToolCall, ToolCall: &ToolCallPayload{CallID: "c"}},
			"tool_call.tool_name",
		},
		{
			"tool output without call id",
			Item{Kind: KindToolOutput, ToolOutput: &ToolOutputPayload{Output: "x"}},
			"tool_output.call_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItem(&tt.item)
			if tt.wantParam == "" {
				if err != nil {
					t.Fatalf("ValidateItem() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidateItem() = nil, want error")
			}
			if err.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", err.Param, tt.wantParam)
			}
		})
	}
}

func TestValidateLog(t *testing.T) {
	tests := []struct {
		name    string
		items   []Item
		wantErr bool
	}{
		{"empty", nil, false},
		{
			"round trip",
			sequenced(
				NewUserMessage("add 2 and 3"),
				NewToolCall("add", "call_1", `{"a":2,"b":3}`),
				NewToolOutput("call_1", "5"),
				NewAssistantMessage("5", ""),
			),
			false,
		},
		{
			"unsequenced",
			[]Item{NewUserMessage("a"), NewAssistantMessage("b", "")},
			false,
		},
		{
			"sequenced prefix then new items",
			append(sequenced(NewUserMessage("a"), NewAssistantMessage("b", "")), NewUserMessage("c")),
			false,
		},
		{
			"gap",
			[]Item{
				{ID: "1", Sequence: 1, Kind: KindUserMessage, Message: &MessagePayload{}},
				{ID: "2", Sequence: 3, Kind: KindUserMessage, Message: &MessagePayload{}},
			},
			true,
		},
		{
			"starts late",
			[]Item{{ID: "1", Sequence: 4, Kind: KindUserMessage, Message: &MessagePayload{}}},
			true,
		},
		{
			"orphan output",
			[]Item{NewUserMessage("a"), NewToolOutput("call_x", "5")},
			true,
		},
		{
			"output before call",
			[]Item{NewToolOutput("call_1", "5"), NewToolCall("add", "call_1", "{}")},
			true,
		},
		{
			"duplicate output",
			[]Item{
				NewToolCall("add", "call_1", "{}"),
				NewToolOutput("call_1", "5"),
				NewToolOutput("call_1", "6"),
			},
			true,
		},
		{
			"duplicate call",
			[]Item{NewToolCall("add", "call_1", "{}"), NewToolCall("add", "call_1", "{}")},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLog(tt.items)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateLog() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error %v should match ErrInvalidInput", err)
			}
		})
	}
}

func TestPendingToolCalls(t *testing.T) {
	items := []Item{
		NewToolCall("add", "call_1", "{}"),
		NewToolOutput("call_1", "5"),
		NewToolCall("add", "call_2", "{}"),
		NewToolCall("mul", "call_3", "{}"),
	}

	pending := PendingToolCalls(items)
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].CallID() != "call_2" || pending[1].CallID() != "call_3" {
		t.Errorf("pending = %s, %s; want call_2, call_3", pending[0].CallID(), pending[1].CallID())
	}
}

func TestValidateTurnTransition(t *testing.T) {
	tests := []struct {
		from, to TurnState
		ok       bool
	}{
		{"", TurnAwaitingModel, true},
		{"", TurnDone, false},
		{TurnAwaitingModel, TurnResolvingTool, true},
		{TurnAwaitingModel, TurnDone, true},
		{TurnAwaitingModel, TurnBudgetExceeded, false},
		{TurnResolvingTool, TurnAwaitingModel, true},
		{TurnResolvingTool, TurnBudgetExceeded, true},
		{TurnResolvingTool, TurnDone, false},
		{TurnDone, TurnAwaitingModel, false},
		{TurnBudgetExceeded, TurnAwaitingModel, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTurnTransition(tt.from, tt.to)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateTurnTransition(%q, %q) = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
			}
		})
	}
}
