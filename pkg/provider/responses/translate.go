package responses

import (
	"encoding/json"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/provider"
)

// translateRequest converts a provider Request to the Responses API wire
// format. The backend never stores state: verlauf owns the log.
func translateRequest(req *provider.Request) *responsesRequest {
	rr := &responsesRequest{
		Model:        req.Model,
		Instructions: req.Instructions,
		Input:        translateItems(req.Input),
		Store:        false,
		Stream:       true,
		Temperature:  req.Temperature,
	}

	for _, t := range req.Tools {
		rr.Tools = append(rr.Tools, responsesTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return rr
}

// translateItems maps log items to Responses API input items. Reasoning
// and handoff items have no portable input form and are omitted.
func translateItems(items []api.Item) []provider.WireItem {
	out := make([]provider.WireItem, 0, len(items))
	for _, item := range items {
		switch item.Kind {
		case api.KindUserMessage:
			out = append(out, provider.WireItem{
				Type:    "message",
				Role:    "user",
				Content: textContent(item.Message.Text),
			})

		case api.KindAssistantMessage:
			out = append(out, provider.WireItem{
				Type:    "message",
				Role:    "assistant",
				Content: textContent(item.Message.Text),
			})

		case api.KindToolCall:
			out = append(out, provider.WireItem{
				Type:      "function_call",
				CallID:    item.ToolCall.CallID,
				Name:      item.ToolCall.ToolName,
				Arguments: item.ToolCall.Arguments,
			})

		case api.KindToolOutput:
			out = append(out, provider.WireItem{
				Type:   "function_call_output",
				CallID: item.ToolOutput.CallID,
				Output: item.ToolOutput.Output,
			})

		case api.KindReasoning, api.KindHandoff:
			debug.Log("providers", "omitting item from model input",
				"kind", item.Kind, "item_id", item.ID)
		}
	}
	return out
}

func textContent(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
