package tools

import (
	"context"
	"fmt"
	"log/slog"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                 `json:"name"`
	Description string                                                 `json:"description"`
	Parameters  map[string]any                                         `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) *Result `json:"-"`
}

// Registry holds the tools declared to the model. The model selects
// tools by name from this set only.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Has reports whether a tool with this name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Declarations returns the tool list in the wire form the chat request
// carries.
func (r *Registry) Declarations() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute dispatches one call to its handler. Nothing a handler does
// can terminate the session: panics are recovered here and converted to
// a failed result, and an unknown name yields a failed result naming
// the valid set.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result *Result) {
	tool := r.tools[name]
	if tool == nil {
		return Fail(fmt.Sprintf("unknown tool %q", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", rec)
			result = Fail(fmt.Sprintf("tool %q failed internally: %v", name, rec))
		}
	}()

	result = tool.Handler(ctx, args)
	if result == nil {
		result = Fail(fmt.Sprintf("tool %q returned no result", name))
	}
	return result
}
