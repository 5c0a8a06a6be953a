// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"log/slog"

	"github.com/jeranaias/chatrelay/internal/tools"
)

// ToolCall is a client tool call that reached input-available.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any

	session *Session
}

// Resolve reports a result for the call through the owning session.
func (c ToolCall) Resolve(output any) error {
	return c.session.AddToolResult(c.ID, output)
}

// Fail reports an error for the call through the owning session.
func (c ToolCall) Fail(errText string) error {
	return c.session.AddToolError(c.ID, errText)
}

// ToolHandler is notified of client tool calls. OnToolCall runs on its own
// goroutine, so it may block; it reports back with call.Resolve or call.Fail
// whenever it is ready. Handlers ignore tools they do not know.
type ToolHandler interface {
	OnToolCall(call ToolCall)
}

// ToolHandlerFunc adapts a function to ToolHandler.
type ToolHandlerFunc func(call ToolCall)

// OnToolCall calls f(call).
func (f ToolHandlerFunc) OnToolCall(call ToolCall) { f(call) }

// AutoResolver answers the tools that need neither user input nor the
// server. Today that is getLocation.
type AutoResolver struct {
	// Location returns the city reported by getLocation.
	Location func() string
}

// NewAutoResolver creates a resolver that reports a random known city.
func NewAutoResolver() *AutoResolver {
	return &AutoResolver{Location: tools.RandomCity}
}

// OnToolCall resolves getLocation and ignores everything else.
func (a *AutoResolver) OnToolCall(call ToolCall) {
	if call.Name != tools.LocationToolName {
		return
	}
	city := a.Location()
	if err := call.Resolve(city); err != nil {
		slog.Debug("AUTO_RESOLVE_SKIPPED", "tool", call.Name, "call_id", call.ID, "error", err)
	}
}
