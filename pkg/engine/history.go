package engine

import (
	"errors"

	"github.com/rhuss/verlauf/pkg/api"
)

// Input is the new material of a turn: either one user message, or a
// full replacement sequence that is used verbatim as the model input.
type Input struct {
	text    string
	items   []api.Item
	replace bool
}

// TextInput returns input that extends the session log with one user
// message.
func TextInput(text string) Input {
	return Input{text: text}
}

// ItemsInput returns input that replaces the session log as the model
// input, for example a log merged from several sessions. The items that
// do not already open the session log are appended by the turn, and the
// turn is rejected if appending them would leave an invalid log.
func ItemsInput(items []api.Item) Input {
	return Input{items: items, replace: true}
}

// history is the reconstructed model input of a turn, split into the part
// already stored and the part the turn must append.
type history struct {
	input    []api.Item
	appended []api.Item
}

// buildHistory combines the stored log with the turn's input.
func buildHistory(prior []api.Item, in Input) (*history, error) {
	if !in.replace {
		user := api.NewUserMessage(in.text)
		input := make([]api.Item, 0, len(prior)+1)
		input = append(input, prior...)
		input = append(input, user)
		return &history{input: input, appended: []api.Item{user}}, nil
	}

	if len(in.items) == 0 {
		return nil, api.NewInvalidInputError("input", "replacement input must not be empty")
	}

	// Items copied from other sessions carry their own sequence numbers,
	// which mean nothing here.
	input := api.CloneItems(in.items)
	for i := range input {
		input[i].Sequence = 0
	}
	if err := api.ValidateLog(input); err != nil {
		return nil, err
	}
	if pending := api.PendingToolCalls(input); len(pending) > 0 {
		return nil, api.NewInvalidInputError("input",
			"replacement input has tool calls without outputs: "+pending[0].ToolCall.CallID)
	}

	n := commonPrefix(prior, input)
	appended := input[n:]

	// The stored log must stay valid once the suffix lands on it, so a
	// sequence that diverges from it cannot repeat its tool round-trips.
	combined := api.CloneItems(prior)
	for i := range combined {
		combined[i].Sequence = 0
	}
	combined = append(combined, appended...)
	if err := api.ValidateLog(combined); err != nil {
		return nil, api.NewInvalidInputError("input",
			"replacement input conflicts with the session log: "+errMessage(err))
	}
	return &history{input: input, appended: appended}, nil
}

func errMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// commonPrefix returns how many leading items of b repeat a.
func commonPrefix(a, b []api.Item) int {
	n := 0
	for n < len(a) && n < len(b) && a[n].ID == b[n].ID && a[n].Kind == b[n].Kind {
		n++
	}
	return n
}

// currentAgent returns the agent that last took control in items, or def.
func currentAgent(items []api.Item, def string) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Handoff != nil && items[i].Handoff.ToAgent != "" {
			return items[i].Handoff.ToAgent
		}
	}
	return def
}
