package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemKind identifies what a conversation item records.
type ItemKind string

const (
	KindUserMessage      ItemKind = "user_message"
	KindAssistantMessage ItemKind = "assistant_message"
	KindToolCall         ItemKind = "tool_call"
	KindToolOutput       ItemKind = "tool_output"
	KindReasoning        ItemKind = "reasoning"
	KindHandoff          ItemKind = "handoff"
)

// Valid reports whether k is one of the known item kinds.
func (k ItemKind) Valid() bool {
	switch k {
	case KindUserMessage, KindAssistantMessage, KindToolCall,
		KindToolOutput, KindReasoning, KindHandoff:
		return true
	}
	return false
}

// MessagePayload holds the text of a user or assistant message.
// Agent names the agent that produced an assistant message, when known.
type MessagePayload struct {
	Text  string `json:"text"`
	Agent string `json:"agent,omitempty"`
}

// ToolCallPayload holds a model's request to invoke a tool.
type ToolCallPayload struct {
	ToolName  string `json:"tool_name"`
	CallID    string `json:"call_id"`
	Arguments string `json:"arguments"`
}

// ToolOutputPayload holds the result of a tool invocation. Error is set
// when the invocation failed; Output then carries a model-readable
// description of the failure.
type ToolOutputPayload struct {
	CallID string    `json:"call_id"`
	Output string    `json:"output"`
	Error  *APIError `json:"error,omitempty"`
}

// ReasoningPayload holds a free-form reasoning note.
type ReasoningPayload struct {
	Text string `json:"text,omitempty"`
}

// HandoffPayload records control moving from one agent to another.
type HandoffPayload struct {
	FromAgent string `json:"from_agent,omitempty"`
	ToAgent   string `json:"to_agent"`
}

// Item is one immutable step of a conversation. Exactly one payload
// field is set, matching Kind. Sequence is zero until a store assigns it.
type Item struct {
	ID        string    `json:"id"`
	Sequence  int64     `json:"sequence"`
	Kind      ItemKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	Message    *MessagePayload    `json:"message,omitempty"`
	ToolCall   *ToolCallPayload   `json:"tool_call,omitempty"`
	ToolOutput *ToolOutputPayload `json:"tool_output,omitempty"`
	Reasoning  *ReasoningPayload  `json:"reasoning,omitempty"`
	Handoff    *HandoffPayload    `json:"handoff,omitempty"`
}

func newItem(kind ItemKind) Item {
	return Item{
		ID:        NewItemID(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserMessage creates a user-message item.
func NewUserMessage(text string) Item {
	item := newItem(KindUserMessage)
	item.Message = &MessagePayload{Text: text}
	return item
}

// NewAssistantMessage creates an assistant-message item.
func NewAssistantMessage(text, agent string) Item {
	item := newItem(KindAssistantMessage)
	item.Message = &MessagePayload{Text: text, Agent: agent}
	return item
}

// NewToolCall creates a tool-call item. An empty callID is replaced by a
// generated one.
func NewToolCall(toolName, callID, arguments string) Item {
	if callID == "" {
		callID = NewCallID()
	}
	item := newItem(KindToolCall)
	item.ToolCall = &ToolCallPayload{ToolName: toolName, CallID: callID, Arguments: arguments}
	return item
}

// NewToolOutput creates a successful tool-output item.
func NewToolOutput(callID, output string) Item {
	item := newItem(KindToolOutput)
	item.ToolOutput = &ToolOutputPayload{CallID: callID, Output: output}
	return item
}

// NewToolError creates a tool-output item carrying an error payload.
func NewToolError(callID string, apiErr *APIError) Item {
	item := newItem(KindToolOutput)
	item.ToolOutput = &ToolOutputPayload{
		CallID: callID,
		Output: "error: " + apiErr.Message,
		Error:  apiErr,
	}
	return item
}

// NewReasoning creates a reasoning item.
func NewReasoning(text string) Item {
	item := newItem(KindReasoning)
	item.Reasoning = &ReasoningPayload{Text: text}
	return item
}

// NewHandoff creates a handoff item.
func NewHandoff(fromAgent, toAgent string) Item {
	item := newItem(KindHandoff)
	item.Handoff = &HandoffPayload{FromAgent: fromAgent, ToAgent: toAgent}
	return item
}

// Text returns the message or reasoning text of the item, or "".
func (item Item) Text() string {
	switch {
	case item.Message != nil:
		return item.Message.Text
	case item.Reasoning != nil:
		return item.Reasoning.Text
	}
	return ""
}

// CallID returns the call id of a tool-call or tool-output item, or "".
func (item Item) CallID() string {
	switch {
	case item.ToolCall != nil:
		return item.ToolCall.CallID
	case item.ToolOutput != nil:
		return item.ToolOutput.CallID
	}
	return ""
}

// Failed reports whether the item is a tool output carrying an error.
func (item Item) Failed() bool {
	return item.ToolOutput != nil && item.ToolOutput.Error != nil
}

// Clone returns a deep copy of the item.
func (item Item) Clone() Item {
	c := item
	if item.Message != nil {
		m := *item.Message
		c.Message = &m
	}
	if item.ToolCall != nil {
		tc := *item.ToolCall
		c.ToolCall = &tc
	}
	if item.ToolOutput != nil {
		out := *item.ToolOutput
		if out.Error != nil {
			e := *out.Error
			out.Error = &e
		}
		c.ToolOutput = &out
	}
	if item.Reasoning != nil {
		r := *item.Reasoning
		c.Reasoning = &r
	}
	if item.Handoff != nil {
		h := *item.Handoff
		c.Handoff = &h
	}
	return c
}

// CloneItems deep-copies a slice of items. A nil input yields an empty,
// non-nil slice so callers can always serialize the result as an array.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// Payload returns the JSON encoding of the kind-specific payload. This is
// the persisted payload column of durable stores.
func (item Item) Payload() (json.RawMessage, error) {
	var v any
	switch item.Kind {
	case KindUserMessage, KindAssistantMessage:
		v = item.Message
	case KindToolCall:
		v = item.ToolCall
	case KindToolOutput:
		v = item.ToolOutput
	case KindReasoning:
		v = item.Reasoning
	case KindHandoff:
		v = item.Handoff
	default:
		return nil, fmt.Errorf("unknown item kind %q", item.Kind)
	}
	return json.Marshal(v)
}

// SetPayload decodes data as the payload for the item's Kind.
func (item *Item) SetPayload(data []byte) error {
	var err error
	switch item.Kind {
	case KindUserMessage, KindAssistantMessage:
		item.Message = &MessagePayload{}
		err = json.Unmarshal(data, item.Message)
	case KindToolCall:
		item.ToolCall = &ToolCallPayload{}
		err = json.Unmarshal(data, item.ToolCall)
	case KindToolOutput:
		item.ToolOutput = &ToolOutputPayload{}
		err = json.Unmarshal(data, item.ToolOutput)
	case KindReasoning:
		item.Reasoning = &ReasoningPayload{}
		err = json.Unmarshal(data, item.Reasoning)
	case KindHandoff:
		item.Handoff = &HandoffPayload{}
		err = json.Unmarshal(data, item.Handoff)
	default:
		return fmt.Errorf("unknown item kind %q", item.Kind)
	}
	if err != nil {
		return fmt.Errorf("decoding %s payload: %w", item.Kind, err)
	}
	return nil
}

// Session is an isolated, named conversation history.
type Session struct {
	ID           string    `json:"id"`
	Log          []Item    `json:"log"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// ToolDeclaration describes a tool to the model: its name, a
// human-readable description, and a JSON schema for its arguments.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Usage reports token consumption for one or more model calls.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
