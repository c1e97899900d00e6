package tools

import (
	"log/slog"
	"sync"

	"github.com/rhuss/verlauf/pkg/api"
)

// Registry maps tool names to bindings. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	bindings map[string]Binding
}

// NewRegistry creates a registry holding the given bindings.
func NewRegistry(bindings ...Binding) *Registry {
	r := &Registry{bindings: make(map[string]Binding)}
	for _, b := range bindings {
		r.Register(b)
	}
	return r
}

// Register adds a binding. Names are resolved first-come, first-served:
// a later binding with a taken name is ignored with a warning. It reports
// whether the binding was added.
func (r *Registry) Register(b Binding) bool {
	if b.Name == "" || b.Invoke == nil {
		slog.Warn("ignoring incomplete tool binding", "tool", b.Name)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[b.Name]; exists {
		slog.Warn("tool name conflict, keeping first binding", "tool", b.Name)
		return false
	}
	r.bindings[b.Name] = b
	r.order = append(r.order, b.Name)
	return true
}

// Lookup returns the binding for name.
func (r *Registry) Lookup(name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}

// Declarations returns the model-facing tool declarations in registration
// order.
func (r *Registry) Declarations() []api.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]api.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.bindings[name].Declaration())
	}
	return decls
}

// Len returns the number of registered bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
