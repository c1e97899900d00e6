package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/rhuss/verlauf/pkg/api"
	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/observability"
)

// Execution outcomes recorded in the tool metrics.
const (
	statusSuccess = "success"
	statusUnknown = "unknown_tool"
	statusInvalid = "invalid_arguments"
	statusError   = "error"
	statusPanic   = "panic"
)

// unknownToolLabel replaces model-supplied names of unregistered tools in
// metric labels.
const unknownToolLabel = "_unknown"

// Resolver executes tool calls against a Registry.
type Resolver struct {
	registry *Registry

	// timeout bounds a single invocation; zero means no limit beyond ctx.
	timeout time.Duration

	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// NewResolver creates a Resolver. A positive timeout bounds each
// invocation.
func NewResolver(registry *Registry, timeout time.Duration) *Resolver {
	return &Resolver{
		registry: registry,
		timeout:  timeout,
		schemas:  make(map[string]*gojsonschema.Schema),
	}
}

// Registry returns the registry the resolver executes against.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve executes one tool-call item and returns the matching tool-output
// item. Failures never escape as errors: the output carries an error
// payload, which is also returned for the caller's bookkeeping. The
// output's call_id always equals the call's.
func (r *Resolver) Resolve(ctx context.Context, call api.Item) (api.Item, *api.APIError) {
	if call.ToolCall == nil {
		apiErr := api.NewInvalidInputError("tool_call", "item is not a tool call")
		return api.Item{}, apiErr
	}
	tc := call.ToolCall

	binding, ok := r.registry.Lookup(tc.ToolName)
	if !ok {
		return r.fail(tc, unknownToolLabel, statusUnknown, api.NewUnknownToolError(tc.ToolName))
	}

	args := json.RawMessage(strings.TrimSpace(tc.Arguments))
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if apiErr := r.validate(binding, args); apiErr != nil {
		return r.fail(tc, tc.ToolName, statusInvalid, apiErr)
	}

	start := time.Now()
	output, err := r.invoke(ctx, binding, args)
	duration := time.Since(start)

	if err != nil {
		status := statusError
		var pe *panicError
		if errors.As(err, &pe) {
			status = statusPanic
		}
		return r.fail(tc, tc.ToolName, status, api.NewToolExecutionError(tc.ToolName, err))
	}

	observability.ToolExecutionsTotal.WithLabelValues(tc.ToolName, statusSuccess).Inc()
	debug.Log("tools", "tool executed",
		"tool", tc.ToolName, "call_id", tc.CallID, "duration", duration,
		"output", debug.Truncate(output, 200))
	return api.NewToolOutput(tc.CallID, output), nil
}

func (r *Resolver) fail(tc *api.ToolCallPayload, label, status string, apiErr *api.APIError) (api.Item, *api.APIError) {
	observability.ToolExecutionsTotal.WithLabelValues(label, status).Inc()
	slog.Warn("tool call failed",
		"tool", tc.ToolName,
		"call_id", tc.CallID,
		"type", apiErr.Type,
		"error", apiErr.Message,
	)
	return api.NewToolError(tc.CallID, apiErr), apiErr
}

// validate checks args against the binding's input schema.
func (r *Resolver) validate(b Binding, args json.RawMessage) *api.APIError {
	if !json.Valid(args) {
		return api.NewToolValidationError(b.Name, "arguments are not valid JSON")
	}
	if len(b.InputSchema) == 0 {
		var obj map[string]any
		if err := json.Unmarshal(args, &obj); err != nil {
			return api.NewToolValidationError(b.Name, "arguments must be a JSON object")
		}
		return nil
	}

	schema, err := r.schema(b)
	if err != nil {
		return api.NewToolValidationError(b.Name, fmt.Sprintf("input schema unusable: %v", err))
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return api.NewToolValidationError(b.Name, err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return api.NewToolValidationError(b.Name, strings.Join(msgs, "; "))
	}
	return nil
}

// schema returns the compiled input schema of b, compiling it once.
func (r *Resolver) schema(b Binding) (*gojsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.schemas[b.Name]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b.InputSchema))
	if err != nil {
		return nil, err
	}
	r.schemas[b.Name] = s
	return s, nil
}

// panicError marks an invocation that panicked.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// invoke runs the binding, converting a panic into an error.
func (r *Resolver) invoke(ctx context.Context, b Binding, args json.RawMessage) (output string, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", b.Name, "panic", rec)
			output, err = "", &panicError{value: rec}
		}
	}()

	return b.Invoke(ctx, args)
}
