package api

import (
	"errors"
	"fmt"
)

// ValidateItem checks an Item for structural validity: a known kind and
// exactly one payload, matching that kind.
func ValidateItem(item *Item) *APIError {
	if !item.Kind.Valid() {
		return NewInvalidInputError("kind", fmt.Sprintf("invalid item kind %q", item.Kind))
	}

	count := 0
	for _, set := range []bool{
		item.Message != nil, item.ToolCall != nil, item.ToolOutput != nil,
		item.Reasoning != nil, item.Handoff != nil,
	} {
		if set {
			count++
		}
	}
	if count != 1 {
		return NewInvalidInputError("kind", "exactly one payload must be populated")
	}

	switch item.Kind {
	case KindUserMessage, KindAssistantMessage:
		if item.Message == nil {
			return NewInvalidInputError("message", fmt.Sprintf("message payload required for %s", item.Kind))
		}
	case KindToolCall:
		if item.ToolCall == nil {
			return NewInvalidInputError("tool_call", "tool_call payload required")
		}
		if item.ToolCall.CallID == "" {
			return NewInvalidInputError("tool_call.call_id", "call_id is required")
		}
		if item.ToolCall.ToolName == "" {
			return NewInvalidInputError("tool_call.tool_name", "tool_name is required")
		}
	case KindToolOutput:
		if item.ToolOutput == nil {
			return NewInvalidInputError("tool_output", "tool_output payload required")
		}
		if item.ToolOutput.CallID == "" {
			return NewInvalidInputError("tool_output.call_id", "call_id is required")
		}
	case KindReasoning:
		if item.Reasoning == nil {
			return NewInvalidInputError("reasoning", "reasoning payload required")
		}
	case KindHandoff:
		if item.Handoff == nil {
			return NewInvalidInputError("handoff", "handoff payload required")
		}
	}

	return nil
}

// ValidateLog checks the item log invariants:
//   - every item is structurally valid;
//   - sequences, when assigned, are strictly increasing and gapless;
//   - no call_id is used by two tool calls;
//   - every tool output answers exactly one earlier tool call, and no
//     call is answered twice.
//
// All violations are reported, joined into one error wrapping ErrInvalidInput.
func ValidateLog(items []Item) error {
	var errs []error
	calls := make(map[string]bool)
	answered := make(map[string]bool)

	for i := range items {
		item := &items[i]
		if apiErr := ValidateItem(item); apiErr != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, apiErr))
			continue
		}

		if i == 0 && item.Sequence > 1 {
			errs = append(errs, fmt.Errorf("item 0: log starts at sequence %d", item.Sequence))
		}
		if i > 0 && item.Sequence != 0 && item.Sequence != items[i-1].Sequence+1 {
			errs = append(errs, fmt.Errorf("item %d: sequence %d does not follow %d",
				i, item.Sequence, items[i-1].Sequence))
		}

		switch item.Kind {
		case KindToolCall:
			id := item.ToolCall.CallID
			if calls[id] {
				errs = append(errs, fmt.Errorf("item %d: duplicate tool call %q", i, id))
			}
			calls[id] = true
		case KindToolOutput:
			id := item.ToolOutput.CallID
			if !calls[id] {
				errs = append(errs, fmt.Errorf("item %d: tool output %q has no preceding tool call", i, id))
			} else if answered[id] {
				errs = append(errs, fmt.Errorf("item %d: tool call %q already has an output", i, id))
			}
			answered[id] = true
		}
	}

	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	return &APIError{
		Type:    ErrorTypeInvalidInput,
		Param:   "items",
		Message: joined.Error(),
		cause:   joined,
	}
}

// PendingToolCalls returns the tool calls in items that have no matching
// tool output, in log order.
func PendingToolCalls(items []Item) []Item {
	answered := make(map[string]bool)
	for _, item := range items {
		if item.ToolOutput != nil {
			answered[item.ToolOutput.CallID] = true
		}
	}
	var pending []Item
	for _, item := range items {
		if item.ToolCall != nil && !answered[item.ToolCall.CallID] {
			pending = append(pending, item)
		}
	}
	return pending
}
