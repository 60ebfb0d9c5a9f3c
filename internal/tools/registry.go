package tools

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/gemgate/gemgate/internal/log"
)

// Registry holds the fixed tool surface exposed to the model. It is
// populated once at startup and read-only afterwards.
type Registry struct {
	logger log.Logger
	tools  map[string]Tool
	order  []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		logger: logger,
		tools:  make(map[string]Tool),
	}
}

// Register adds tools, rejecting duplicate names.
func (r *Registry) Register(ts ...Tool) error {
	for _, t := range ts {
		if t == nil {
			return fmt.Errorf("nil tool")
		}
		name := t.Name()
		if _, ok := r.tools[name]; ok {
			return fmt.Errorf("duplicate tool %q", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return nil
}

// Declarations returns every tool's function declaration in registration
// order.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].Declaration())
	}
	return decls
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Invoke dispatches a model-requested tool call. Failures come back as a
// textual result the model can read and react to; the conversation never
// aborts on a bad tool call.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) Result {
	t, ok := r.tools[name]
	if !ok {
		r.logger.Warn("model requested unknown tool", "tool", name)
		return Result{Text: fmt.Sprintf("Error: unknown tool %q.", name)}
	}

	res, err := t.Invoke(ctx, args)
	if err != nil {
		r.logger.Error("tool invocation failed", "tool", name, "error", err)
		return Result{Text: fmt.Sprintf("Error: tool %s failed: %v", name, err)}
	}
	return res
}
