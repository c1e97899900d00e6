package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/rhuss/verlauf/pkg/api"
)

// InvokeFunc runs a tool with JSON-encoded arguments and returns its text
// output.
type InvokeFunc func(ctx context.Context, arguments json.RawMessage) (string, error)

// Binding connects a tool name the model may call to code that runs it.
type Binding struct {
	Name        string
	Description string

	// InputSchema is the JSON schema of the arguments object. Empty means
	// any JSON object is accepted.
	InputSchema json.RawMessage

	Invoke InvokeFunc
}

// Declaration returns the model-facing description of the binding.
func (b Binding) Declaration() api.ToolDeclaration {
	params := b.InputSchema
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return api.ToolDeclaration{
		Name:        b.Name,
		Description: b.Description,
		Parameters:  params,
	}
}

// NewFunc creates a Binding from a typed Go function. The input schema is
// reflected from In: json tags name the properties, fields without
// omitempty are required, and jsonschema_description tags document them.
func NewFunc[In any](name, description string, fn func(ctx context.Context, in In) (string, error)) (Binding, error) {
	schema, err := GenerateSchema[In]()
	if err != nil {
		return Binding{}, fmt.Errorf("tool %q: %w", name, err)
	}

	return Binding{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Invoke: func(ctx context.Context, arguments json.RawMessage) (string, error) {
			var in In
			if err := json.Unmarshal(arguments, &in); err != nil {
				return "", fmt.Errorf("decoding arguments: %w", err)
			}
			return fn(ctx, in)
		},
	}, nil
}

// MustFunc is like NewFunc but panics on error. Use it for bindings
// declared at package level.
func MustFunc[In any](name, description string, fn func(ctx context.Context, in In) (string, error)) Binding {
	b, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return b
}

// GenerateSchema reflects a self-contained JSON schema from T.
func GenerateSchema[T any]() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var v T
	schema := reflector.Reflect(v)
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	return data, nil
}
