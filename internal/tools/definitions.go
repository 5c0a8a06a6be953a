// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownTool is returned when a call names a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrClientTool is returned when asked to execute a client-side tool.
	ErrClientTool = errors.New("tool is resolved by the client")
)

// ValidationError represents a tool input validation failure.
type ValidationError struct {
	Tool    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input for tool %s: %s", e.Tool, e.Message)
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// ExecuteFunc runs a server-side tool with validated input. The returned
// value is encoded as JSON and sent to both the client and the model.
type ExecuteFunc func(ctx context.Context, input map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	// Name is the tool identifier the model uses in calls
	Name string

	// Description explains to the model when to use the tool
	Description string

	// Schema is the JSON Schema for the tool input
	Schema *jsonschema.Schema

	// Execute runs the tool on the server. Nil marks a client-side tool.
	Execute ExecuteFunc

	// RequiresConfirmation marks client-side tools that wait for the user
	RequiresConfirmation bool

	resolved *jsonschema.Resolved
}

// IsServerSide reports whether the endpoint executes the tool itself.
func (t *Tool) IsServerSide() bool {
	return t.Execute != nil
}

// =============================================================================
// TOOL REGISTRY
// =============================================================================

// Registry holds the available tools in registration order. It is built once
// at startup and only read afterwards.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// DefaultRegistry creates a registry with the built-in tools.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterBuiltins()
	return r
}

// RegisterBuiltins registers all built-in tools. It panics if a built-in
// schema fails to resolve, since that is a programming error.
func (r *Registry) RegisterBuiltins() {
	for _, t := range Builtins() {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Register adds a tool to the registry and resolves its schema.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return errors.New("tool must have a name")
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}

	schema := tool.Schema
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
		tool.Schema = schema
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("failed to resolve schema for %s: %w", tool.Name, err)
	}
	tool.resolved = resolved

	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// All returns all registered tools in registration order.
func (r *Registry) All() []*Tool {
	result := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Definition is the function declaration advertised to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Definitions returns the function declarations advertised to the model.
func (r *Registry) Definitions() ([]Definition, error) {
	defs := make([]Definition, 0, len(r.order))
	for _, t := range r.All() {
		params, err := json.Marshal(t.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for %s: %w", t.Name, err)
		}
		defs = append(defs, Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate decodes raw tool input and checks it against the tool schema.
// Empty input is treated as an empty object.
func (r *Registry) Validate(name string, raw json.RawMessage) (map[string]any, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	var input any = map[string]any{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, &ValidationError{Tool: name, Message: "input is not valid JSON: " + err.Error()}
		}
	}

	obj, ok := input.(map[string]any)
	if !ok {
		return nil, &ValidationError{Tool: name, Message: "input must be a JSON object"}
	}

	if err := tool.resolved.Validate(obj); err != nil {
		return nil, &ValidationError{Tool: name, Message: err.Error()}
	}
	return obj, nil
}
