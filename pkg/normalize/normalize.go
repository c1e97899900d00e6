// Package normalize maps raw provider events into the closed
// api.StreamEvent union consumed by the engine.
//
// A Normalizer is stateful for one model call sequence: it tracks the
// active agent name (so assistant messages and handoffs are attributed
// correctly) and the provider item ids already completed (so an item
// reported twice, once as a raw output item and once as a run item, is
// emitted once).
package normalize

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/observability"
	"github.com/rhuss/verlauf/pkg/provider"
)

// Outcome classifies the result of normalizing one raw event.
type Outcome int

const (
	// OutcomeEvent means a StreamEvent was produced.
	OutcomeEvent Outcome = iota
	// OutcomeDropped means the raw event carries nothing for the log.
	OutcomeDropped
	// OutcomeEnd means the model call finished.
	OutcomeEnd
)

// lifecycle lists raw events that are expected but carry nothing the log
// needs. They are dropped without being counted.
var lifecycle = map[string]bool{
	provider.EventResponseCreated:            true,
	"response.in_progress":                   true,
	provider.EventOutputItemAdded:            true,
	"response.content_part.added":            true,
	"response.content_part.done":             true,
	"response.output_text.done":              true,
	"response.function_call_arguments.delta": true,
	"response.function_call_arguments.done":  true,
	"response.reasoning_summary_text.delta":  true,
	"response.reasoning_summary_text.done":   true,
	"response.reasoning_summary_part.added":  true,
	"response.reasoning_summary_part.done":   true,
	"raw_response_event":                     true,
}

// knownTypes lists the raw event types the normalizer acts on.
var knownTypes = map[string]bool{
	provider.EventOutputTextDelta:    true,
	provider.EventOutputItemDone:     true,
	provider.EventResponseCompleted:  true,
	provider.EventResponseIncomplete: true,
	provider.EventResponseFailed:     true,
	provider.EventError:              true,
	provider.EventRunItem:            true,
	provider.EventAgentUpdated:       true,
}

// Normalizer converts raw events to StreamEvents.
type Normalizer struct {
	agent string
	seen  map[string]bool
	usage *api.Usage
}

// New creates a Normalizer for a run starting with the named agent.
func New(agent string) *Normalizer {
	return &Normalizer{
		agent: agent,
		seen:  make(map[string]bool),
	}
}

// Agent returns the currently active agent name.
func (n *Normalizer) Agent() string {
	return n.agent
}

// TakeUsage returns the token usage reported by the last completed call
// and clears it. It returns nil when the provider reported none.
func (n *Normalizer) TakeUsage() *api.Usage {
	u := n.usage
	n.usage = nil
	return u
}

// Normalize maps one raw event. A non-nil error is a model-call failure
// (*api.APIError of type model_call_failure); the stream must not be read
// further.
func (n *Normalizer) Normalize(raw provider.RawEvent) (api.StreamEvent, Outcome, error) {
	if raw.Err != nil {
		return api.StreamEvent{}, OutcomeEnd, api.NewModelCallError(raw.Err)
	}

	switch raw.Type {
	case provider.EventOutputTextDelta:
		var d provider.TextDeltaData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return n.malformed(raw, err)
		}
		if d.Delta == "" {
			return api.StreamEvent{}, OutcomeDropped, nil
		}
		return api.TextDelta(d.Delta), OutcomeEvent, nil

	case provider.EventOutputItemDone:
		var d provider.OutputItemData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return n.malformed(raw, err)
		}
		return n.completed(raw.Type, d.Item, n.agent)

	case provider.EventRunItem:
		var d provider.RunItemData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return n.malformed(raw, err)
		}
		return n.runItem(d)

	case provider.EventAgentUpdated:
		var d provider.AgentUpdatedData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return n.malformed(raw, err)
		}
		return n.handoff(n.agent, d.NewAgent.Name)

	case provider.EventResponseCompleted, provider.EventResponseIncomplete:
		var d provider.ResponseData
		if err := json.Unmarshal(raw.Data, &d); err == nil && d.Response.Usage != nil {
			n.usage = &api.Usage{
				InputTokens:  d.Response.Usage.InputTokens,
				OutputTokens: d.Response.Usage.OutputTokens,
				TotalTokens:  d.Response.Usage.TotalTokens,
			}
		}
		return api.StreamEvent{}, OutcomeEnd, nil

	case provider.EventResponseFailed:
		var d provider.ResponseData
		msg := "backend response failed"
		if err := json.Unmarshal(raw.Data, &d); err == nil && d.Response.Error != nil {
			msg = d.Response.Error.Message
		}
		return api.StreamEvent{}, OutcomeEnd, api.NewModelCallError(errors.New(msg))

	case provider.EventError:
		var d provider.WireError
		msg := "backend stream error"
		if err := json.Unmarshal(raw.Data, &d); err == nil && d.Message != "" {
			msg = d.Message
		}
		return api.StreamEvent{}, OutcomeEnd, api.NewModelCallError(errors.New(msg))
	}

	if lifecycle[raw.Type] {
		return api.StreamEvent{}, OutcomeDropped, nil
	}
	debug.Log("normalize", "dropping unrecognized event", "type", raw.Type)
	observability.EventsDroppedTotal.WithLabelValues(labelType(raw.Type)).Inc()
	return api.StreamEvent{}, OutcomeDropped, nil
}

func (n *Normalizer) runItem(d provider.RunItemData) (api.StreamEvent, Outcome, error) {
	agent := d.Agent
	if agent == "" {
		agent = n.agent
	}

	switch d.Name {
	case provider.RunItemMessageOutput, provider.RunItemToolCalled,
		provider.RunItemToolOutput, provider.RunItemReasoning:
		return n.completed(provider.EventRunItem+"/"+d.Name, d.Item, agent)

	case provider.RunItemHandoff, provider.RunItemHandoffAlt:
		from := d.SourceAgent
		if from == "" {
			from = n.agent
		}
		return n.handoff(from, d.TargetAgent)

	case provider.RunItemHandoffCall:
		// The handoff is reported by the handoff_occurred item that follows.
		return api.StreamEvent{}, OutcomeDropped, nil
	}

	debug.Log("normalize", "dropping unrecognized run item", "name", d.Name)
	observability.EventsDroppedTotal.WithLabelValues(provider.EventRunItem).Inc()
	return api.StreamEvent{}, OutcomeDropped, nil
}

func (n *Normalizer) handoff(from, to string) (api.StreamEvent, Outcome, error) {
	if to == "" || to == n.agent {
		return api.StreamEvent{}, OutcomeDropped, nil
	}
	debug.Log("normalize", "agent changed", "from", from, "to", to)
	n.agent = to
	return api.HandoffOccurred(from, to), OutcomeEvent, nil
}

// completed converts a finished provider item into an ItemCompleted event.
func (n *Normalizer) completed(source string, w provider.WireItem, agent string) (api.StreamEvent, Outcome, error) {
	if w.ID != "" {
		if n.seen[w.ID] {
			debug.Log("normalize", "dropping repeated item", "provider_id", w.ID, "source", source)
			return api.StreamEvent{}, OutcomeDropped, nil
		}
		n.seen[w.ID] = true
	}

	item, ok := toItem(w, agent)
	if !ok {
		debug.Log("normalize", "dropping unsupported item", "item_type", w.Type, "source", source)
		observability.EventsDroppedTotal.WithLabelValues(labelType(w.Type)).Inc()
		return api.StreamEvent{}, OutcomeDropped, nil
	}
	return api.ItemCompleted(item), OutcomeEvent, nil
}

// toItem maps a Responses API item to a log item.
func toItem(w provider.WireItem, agent string) (api.Item, bool) {
	switch w.Type {
	case "message":
		if w.Role != "" && w.Role != "assistant" {
			return api.Item{}, false
		}
		return api.NewAssistantMessage(w.Text(), agent), true

	case "function_call":
		if w.Name == "" {
			return api.Item{}, false
		}
		return api.NewToolCall(w.Name, w.CallID, w.Arguments), true

	case "custom_tool_call":
		if w.Name == "" {
			return api.Item{}, false
		}
		return api.NewToolCall(w.Name, w.CallID, w.Input), true

	case "function_call_output", "custom_tool_call_output":
		if w.CallID == "" {
			return api.Item{}, false
		}
		return api.NewToolOutput(w.CallID, w.Output), true

	case "reasoning":
		return api.NewReasoning(w.Text()), true
	}
	return api.Item{}, false
}

func (n *Normalizer) malformed(raw provider.RawEvent, err error) (api.StreamEvent, Outcome, error) {
	debug.Log("normalize", "dropping malformed event", "type", raw.Type, "error", err,
		"data", debug.Truncate(string(raw.Data), 200))
	observability.EventsDroppedTotal.WithLabelValues(labelType(raw.Type)).Inc()
	return api.StreamEvent{}, OutcomeDropped, nil
}

// labelType bounds metric label cardinality: provider-controlled types
// outside the known set share one label value.
func labelType(t string) string {
	switch {
	case t == "":
		return "empty"
	case knownTypes[t] || lifecycle[t]:
		return t
	}
	return "other"
}

// Drain reads ch until the call ends, forwarding every produced event to
// emit in arrival order. It returns the first model-call failure, the first
// emit error, or ctx.Err() on cancellation. A channel closed without a
// completion event is treated as a normal end; providers whose protocol
// has terminal events report a cut-off stream as a RawEvent with Err.
func (n *Normalizer) Drain(ctx context.Context, ch <-chan provider.RawEvent, emit func(api.StreamEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-ch:
			if !ok {
				debug.Log("normalize", "stream closed without completion event")
				return nil
			}

			ev, outcome, err := n.Normalize(raw)
			if err != nil {
				return err
			}
			switch outcome {
			case OutcomeEnd:
				return nil
			case OutcomeEvent:
				if err := emit(ev); err != nil {
					return err
				}
			}
		}
	}
}
