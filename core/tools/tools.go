// Package tools declares the capabilities the session advertises to the
// remote model and dispatches its function calls to the matching providers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/chorus-voice/chorus-core/core/protocol"
)

// Tool is one declared capability: a name, a description the model picks it
// by, a parameter schema reflected from its typed arguments, and the provider
// call behind it.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage

	execute func(ctx context.Context, arguments string) (string, error)
}

// NewTool declares a tool whose arguments unmarshal into P. The parameter
// schema is reflected from P, so the wire declaration and the decode type
// cannot drift apart.
func NewTool[P any](name, description string, execute func(ctx context.Context, parameters P) (string, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var zero P
	schema := reflector.Reflect(zero)
	schema.Version = ""
	schemaBytes, err := schema.MarshalJSON()
	if err != nil {
		// Reflection over a plain parameter struct cannot fail at runtime;
		// treat it as a programming error.
		panic(fmt.Sprintf("failed to reflect parameter schema for tool %q: %v", name, err))
	}

	return Tool{
		Name:        name,
		Description: description,
		Parameters:  schemaBytes,
		execute: func(ctx context.Context, arguments string) (string, error) {
			var parameters P
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &parameters); err != nil {
					return "", fmt.Errorf("failed to unmarshal tool arguments: %w", err)
				}
			}
			return execute(ctx, parameters)
		},
	}
}

// Execute runs the tool against its provider.
func (t Tool) Execute(ctx context.Context, arguments string) (string, error) {
	if t.execute == nil {
		return "", fmt.Errorf("tool %q has no provider", t.Name)
	}
	return t.execute(ctx, arguments)
}

// Declaration is the wire form advertised in session.update.
func (t Tool) Declaration() protocol.ToolDeclaration {
	return protocol.ToolDeclaration{
		Type:        "function",
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// Registry is the dispatch table from declared tool names to providers.
type Registry struct {
	order []string
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	r.Add(tools...)
	return r
}

// Add registers tools, replacing earlier registrations with the same name.
func (r *Registry) Add(tools ...Tool) {
	for _, tool := range tools {
		if _, exists := r.tools[tool.Name]; !exists {
			r.order = append(r.order, tool.Name)
		}
		r.tools[tool.Name] = tool
	}
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	tool, ok := r.tools[name]
	return tool, ok
}

// Declarations lists every registered tool in registration order.
func (r *Registry) Declarations() []protocol.ToolDeclaration {
	if r == nil {
		return nil
	}

	declarations := make([]protocol.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		declarations = append(declarations, r.tools[name].Declaration())
	}
	return declarations
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
