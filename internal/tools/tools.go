// Package tools provides the explicit tool registry for the waiter agent.
//
// Every tool the model may call is registered here with a name, a
// description, and a JSON schema inferred from its input type. Invocation
// validates arguments against the schema before the handler runs, so a
// hallucinated or malformed tool call never reaches business logic.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"
)

var (
	// ErrUnknownTool indicates a call to a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments indicates tool arguments that fail schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrExecution indicates the tool handler itself failed.
	ErrExecution = errors.New("tool execution failed")
)

// Definition is a registered tool: metadata, input schema, and the
// type-erased handler.
type Definition struct {
	name        string
	description string
	schema      *jsonschema.Resolved
	handler     func(context.Context, any) (any, error)
	define      func(*genkit.Genkit) ai.Tool
}

// Name returns the tool's identifier as advertised to the model.
func (d *Definition) Name() string { return d.name }

// Description returns the tool description the model sees.
func (d *Definition) Description() string { return d.description }

// New creates a tool definition with a schema inferred from In.
//
// The handler gets the already-validated, typed input. Input coercion
// accepts both typed values and the map[string]any the model produces.
func New[In, Out any](name, description string, handler func(context.Context, In) (Out, error)) (*Definition, error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("inferring schema for tool %q: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema for tool %q: %w", name, err)
	}

	erased := func(ctx context.Context, input any) (any, error) {
		typed, err := coerce[In](input)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		out, err := handler(ctx, typed)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrExecution, name, err)
		}
		return out, nil
	}

	return &Definition{
		name:        name,
		description: description,
		schema:      resolved,
		handler:     erased,
		define: func(g *genkit.Genkit) ai.Tool {
			return genkit.DefineTool(g, name, description,
				func(tctx *ai.ToolContext, input In) (Out, error) {
					return handler(tctx.Context, input)
				})
		},
	}, nil
}

// MustNew is New for static tool tables; panics on schema errors.
func MustNew[In, Out any](name, description string, handler func(context.Context, In) (Out, error)) *Definition {
	def, err := New(name, description, handler)
	if err != nil {
		panic(fmt.Sprintf("BUG: defining tool %q: %v", name, err))
	}
	return def
}

// validate checks raw arguments against the tool's input schema.
func (d *Definition) validate(input any) error {
	// Round-trip through JSON so typed structs and model-produced maps
	// validate identically.
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	return d.schema.Validate(decoded)
}

// coerce converts the model-provided input to the handler's typed input.
func coerce[In any](input any) (In, error) {
	if typed, ok := input.(In); ok {
		return typed, nil
	}

	var typed In
	raw, err := json.Marshal(input)
	if err != nil {
		return typed, fmt.Errorf("encoding input: %w", err)
	}
	if err := json.Unmarshal(raw, &typed); err != nil {
		return typed, fmt.Errorf("expected %T: %w", typed, err)
	}
	return typed, nil
}
