// Package tools implements the capabilities the model can call: chat
// transcript recall, YouTube viewing and downloading, grounded web
// search, image and video generation, and webpage reading.
//
// Each tool derives its argument schema from its typed input struct and
// validates incoming arguments against it before dispatch, so malformed
// model output never reaches a handler.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

// ErrInvalidArgs indicates tool arguments failed schema validation.
var ErrInvalidArgs = errors.New("invalid tool arguments")

// FileSend instructs the transport layer to deliver a file to the user.
// A tool result carrying one short-circuits the conversation round.
type FileSend struct {
	Path    string
	Caption string
}

// Result is the outcome of one tool invocation. Text feeds back into the
// model; File is delivered to the user directly.
type Result struct {
	Text string
	File *FileSend
}

// Tool is one callable capability.
type Tool interface {
	Name() string
	Declaration() *genai.FunctionDeclaration
	Invoke(ctx context.Context, args map[string]any) (Result, error)
}

// typedTool adapts a typed handler to the Tool interface, validating
// arguments against the schema derived from In.
type typedTool[In any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
	handler     func(ctx context.Context, in In) (Result, error)
}

// New builds a Tool from a typed handler. The argument schema is derived
// from In's fields and tags.
func New[In any](name, description string, handler func(ctx context.Context, in In) (Result, error)) (Tool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("tool %s: handler is required", name)
	}
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: deriving schema: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: resolving schema: %w", name, err)
	}
	return &typedTool[In]{
		name:        name,
		description: description,
		schema:      schema,
		resolved:    resolved,
		handler:     handler,
	}, nil
}

func (t *typedTool[In]) Name() string { return t.name }

func (t *typedTool[In]) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.name,
		Description: t.description,
		Parameters:  toGenAISchema(t.schema),
	}
}

func (t *typedTool[In]) Invoke(ctx context.Context, args map[string]any) (Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := t.resolved.Validate(args); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	var in In
	if err := json.Unmarshal(data, &in); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return t.handler(ctx, in)
}

// toGenAISchema converts the derived jsonschema to the declaration
// schema the model API expects. Only the subset the API understands is
// carried over.
func toGenAISchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Items:       toGenAISchema(s.Items),
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenAISchema(prop)
		}
	}
	for _, e := range s.Enum {
		if str, ok := e.(string); ok {
			out.Enum = append(out.Enum, str)
		}
	}
	return out
}
