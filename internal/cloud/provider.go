// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider kinds accepted by NewProvider.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
)

// Provider streams chat completions from a language model.
type Provider interface {
	// Stream sends req and calls fn for every delta in arrival order. It
	// returns when the model finishes, fn returns an error, or ctx ends.
	Stream(ctx context.Context, req ChatRequest, fn func(Delta) error) error

	// Model returns the model identifier used when req.Model is empty.
	Model() string

	// IsConfigured reports whether credentials are present.
	IsConfigured() bool
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// ProviderOptions configures NewProvider.
type ProviderOptions struct {
	Kind     string
	APIKey   string
	BaseURL  string
	Model    string
	SiteURL  string
	SiteName string
}

// NewProvider builds the provider named by opts.Kind.
func NewProvider(opts ProviderOptions) (Provider, error) {
	switch strings.ToLower(opts.Kind) {
	case "", ProviderOpenRouter:
		c := NewOpenRouterClient(opts.APIKey)
		if opts.BaseURL != "" {
			c.WithBaseURL(opts.BaseURL)
		}
		if opts.Model != "" {
			c.WithModel(opts.Model)
		}
		if opts.SiteURL != "" {
			c.WithSiteURL(opts.SiteURL)
		}
		if opts.SiteName != "" {
			c.WithSiteName(opts.SiteName)
		}
		return c, nil
	case ProviderOpenAI:
		return NewOpenAIClient(opts.APIKey, opts.BaseURL, opts.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q: must be one of %s, %s", opts.Kind, ProviderOpenRouter, ProviderOpenAI)
	}
}

// =============================================================================
// MESSAGES
// =============================================================================

// Provider-side message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function call made by the assistant.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// NewToolMessage creates the message that returns a tool result to the model.
func NewToolMessage(toolCallID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// ToolDefinition declares a function the model may call.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition is the name, description and JSON Schema of a function.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NewFunctionTool creates a function tool definition.
func NewFunctionTool(name, description string, parameters json.RawMessage) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Stream      bool             `json:"stream"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// =============================================================================
// DELTAS
// =============================================================================

// Delta is one normalised piece of streamed model output.
type Delta struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCallDelta
	FinishReason string
}

// ToolCallDelta is a fragment of a tool call. Index ties fragments of the
// same call together; ID and Name usually arrive only on the first one.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// IsEmpty reports whether the delta carries nothing.
func (d Delta) IsEmpty() bool {
	return d.Content == "" && d.Reasoning == "" && len(d.ToolCalls) == 0 && d.FinishReason == ""
}
