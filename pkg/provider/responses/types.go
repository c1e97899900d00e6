// Package responses implements a Provider adapter for backends that support
// the OpenAI Responses API (/v1/responses). Requests are sent with
// stream=true and store=false; the SSE events are passed through as raw
// events for the normalizer.
package responses

import (
	"encoding/json"

	"github.com/rhuss/verlauf/pkg/provider"
)

// responsesRequest is the wire format for POST /v1/responses.
type responsesRequest struct {
	Model        string              `json:"model"`
	Instructions string              `json:"instructions,omitempty"`
	Input        []provider.WireItem `json:"input"`
	Tools        []responsesTool     `json:"tools,omitempty"`
	Store        bool                `json:"store"`
	Stream       bool                `json:"stream"`
	Temperature  *float64            `json:"temperature,omitempty"`
}

// responsesTool is a function tool definition in the Responses API format.
type responsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// errorBody is the error envelope returned with non-2xx statuses.
type errorBody struct {
	Error *provider.WireError `json:"error"`
}
