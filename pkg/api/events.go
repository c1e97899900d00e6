package api

// StreamEventType tags the variant of a StreamEvent.
type StreamEventType string

const (
	// EventTextDelta carries a fragment of live assistant text. Deltas are
	// for display only and never become log items.
	EventTextDelta StreamEventType = "text.delta"

	// EventItemCompleted carries one finished item.
	EventItemCompleted StreamEventType = "item.completed"

	// EventHandoffOccurred reports control moving between agents.
	EventHandoffOccurred StreamEventType = "handoff"
)

// StreamEvent is the closed, provider-agnostic union of streaming output.
// Which fields are set depends on Type:
//   - EventTextDelta: Text
//   - EventItemCompleted: Item
//   - EventHandoffOccurred: FromAgent, ToAgent
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Text      string          `json:"text,omitempty"`
	Item      *Item           `json:"item,omitempty"`
	FromAgent string          `json:"from_agent,omitempty"`
	ToAgent   string          `json:"to_agent,omitempty"`
}

// TextDelta builds a text delta event.
func TextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text}
}

// ItemCompleted builds an item-completed event.
func ItemCompleted(item Item) StreamEvent {
	return StreamEvent{Type: EventItemCompleted, Item: &item}
}

// HandoffOccurred builds a handoff event.
func HandoffOccurred(from, to string) StreamEvent {
	return StreamEvent{Type: EventHandoffOccurred, FromAgent: from, ToAgent: to}
}
