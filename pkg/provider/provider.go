package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhuss/verlauf/pkg/api"
)

// Provider abstracts a streaming model backend.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "dryrun").
	Name() string

	// Stream starts one model call. The returned channel receives raw
	// events in arrival order and is closed by the provider when the call
	// ends, fails, or ctx is cancelled. An error return means the call
	// could not be started.
	Stream(ctx context.Context, req *Request) (<-chan RawEvent, error)

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}

// Request is the backend-facing request for one model call.
type Request struct {
	Model        string
	Instructions string
	Temperature  *float64

	// Input is the full conversation so far, oldest first.
	Input []api.Item

	// Tools are declared to the model verbatim.
	Tools []api.ToolDeclaration
}

// RawEvent is one untyped event from a provider stream. Err is set when
// the transport failed mid-stream; such an event is always the last one.
type RawEvent struct {
	Type string
	Data json.RawMessage
	Err  error
}

// NewEvent builds a RawEvent with v marshaled as its data.
func NewEvent(eventType string, v any) RawEvent {
	data, err := json.Marshal(v)
	if err != nil {
		return RawEvent{Type: eventType, Err: fmt.Errorf("marshal %s: %w", eventType, err)}
	}
	return RawEvent{Type: eventType, Data: data}
}

// Send delivers ev unless ctx is done first. It reports whether the event
// was delivered; producers stop when it returns false.
func Send(ctx context.Context, ch chan<- RawEvent, ev RawEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
