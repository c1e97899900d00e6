package provider

import (
	"encoding/json"
	"strings"
)

// Raw event types understood by the normalizer.
const (
	EventResponseCreated    = "response.created"
	EventOutputTextDelta    = "response.output_text.delta"
	EventOutputItemAdded    = "response.output_item.added"
	EventOutputItemDone     = "response.output_item.done"
	EventResponseCompleted  = "response.completed"
	EventResponseIncomplete = "response.incomplete"
	EventResponseFailed     = "response.failed"
	EventError              = "error"

	EventRunItem      = "run_item_stream_event"
	EventAgentUpdated = "agent_updated_stream_event"
)

// Terminal reports whether typ ends a Responses API stream.
func Terminal(typ string) bool {
	switch typ {
	case EventResponseCompleted, EventResponseIncomplete, EventResponseFailed, EventError:
		return true
	}
	return false
}

// Names carried by run_item_stream_event. Both handoff spellings occur in
// the wild.
const (
	RunItemMessageOutput = "message_output_created"
	RunItemToolCalled    = "tool_called"
	RunItemToolOutput    = "tool_output"
	RunItemReasoning     = "reasoning_item_created"
	RunItemHandoff       = "handoff_occured"
	RunItemHandoffAlt    = "handoff_occurred"
	RunItemHandoffCall   = "handoff_requested"
)

// WireItem is an item in the Responses API format, used both for request
// input and for items carried in raw event payloads.
type WireItem struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Status    string          `json:"status,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // string or array of parts
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Input     string          `json:"input,omitempty"` // custom_tool_call
	Output    string          `json:"output,omitempty"`
	Summary   []WirePart      `json:"summary,omitempty"` // reasoning
}

// WirePart is one content or summary part.
type WirePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text concatenates the item's text content. Content may be a plain
// string or an array of parts; reasoning items fall back to their summary.
func (w WireItem) Text() string {
	if len(w.Content) > 0 {
		var s string
		if err := json.Unmarshal(w.Content, &s); err == nil {
			return s
		}
		var parts []WirePart
		if err := json.Unmarshal(w.Content, &parts); err == nil {
			var b strings.Builder
			for _, p := range parts {
				b.WriteString(p.Text)
			}
			if b.Len() > 0 {
				return b.String()
			}
		}
	}
	var b strings.Builder
	for _, p := range w.Summary {
		b.WriteString(p.Text)
	}
	return b.String()
}

// WireUsage holds token usage reported by the backend.
type WireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// WireError is the error object of failed responses and error events.
type WireError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// TextDeltaData is the payload of response.output_text.delta.
type TextDeltaData struct {
	Delta       string `json:"delta"`
	ItemID      string `json:"item_id,omitempty"`
	OutputIndex int    `json:"output_index"`
}

// OutputItemData is the payload of response.output_item.added/done.
type OutputItemData struct {
	OutputIndex int      `json:"output_index"`
	Item        WireItem `json:"item"`
}

// ResponseData is the payload of response.created/completed/failed.
type ResponseData struct {
	Response struct {
		ID     string     `json:"id,omitempty"`
		Status string     `json:"status,omitempty"`
		Model  string     `json:"model,omitempty"`
		Usage  *WireUsage `json:"usage,omitempty"`
		Error  *WireError `json:"error,omitempty"`
	} `json:"response"`
}

// RunItemData is the payload of run_item_stream_event.
type RunItemData struct {
	Name        string   `json:"name"`
	Agent       string   `json:"agent,omitempty"`
	Item        WireItem `json:"item"`
	SourceAgent string   `json:"source_agent,omitempty"`
	TargetAgent string   `json:"target_agent,omitempty"`
}

// AgentUpdatedData is the payload of agent_updated_stream_event.
type AgentUpdatedData struct {
	NewAgent struct {
		Name string `json:"name"`
	} `json:"new_agent"`
}
