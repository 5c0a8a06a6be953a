// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools provides the tool registry offered to the model.
//
// Every tool carries a name, a description the model uses to decide when to
// call it, and a JSON Schema for its input. Tools with an Execute function
// run inside the completion endpoint (server-side). Tools without one are
// resolved by the chat client, either automatically or after the user
// confirms.
//
// # Key Types
//
//   - Tool: Tool definition with name, description, schema and executor
//   - Registry: Ordered, static mapping from tool name to Tool
//   - Executor: Validates input and runs server-side tools with a timeout
//   - Result: Tool execution outcome
//   - ValidationError: Structured input validation failure
//
// # Available Tools
//
//   - getWeatherInformation: Server-side, returns the weather for a city
//   - askForConfirmation: Client-side, waits for the user to confirm
//   - getLocation: Client-side, resolved automatically by the client
//
// # Usage
//
//	reg := tools.DefaultRegistry()
//	exec := tools.NewExecutor(reg)
//	res := exec.Execute(ctx, tools.Call{
//	    ID:    "call_1",
//	    Name:  tools.WeatherToolName,
//	    Input: json.RawMessage(`{"city":"Boston"}`),
//	})
package tools
