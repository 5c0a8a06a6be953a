// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package uimsg

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Part type discriminators. Tool parts use ToolPrefix plus the tool name.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartStepStart = "step-start"
	ToolPrefix    = "tool-"
)

// =============================================================================
// PART STATE
// =============================================================================

// State is the lifecycle state of a part.
//
// Text and reasoning parts are either streaming or done. Tool parts move
// through the tool call state machine:
//
//	input-streaming -> input-available -> output-available
//	                                   -> output-error
type State string

const (
	StateStreaming State = "streaming"
	StateDone      State = "done"

	StateInputStreaming  State = "input-streaming"
	StateInputAvailable  State = "input-available"
	StateOutputAvailable State = "output-available"
	StateOutputError     State = "output-error"
)

// IsTerminal reports whether a tool part in this state is resolved.
func (s State) IsTerminal() bool {
	return s == StateOutputAvailable || s == StateOutputError
}

// toolTransitions lists the legal next states for each tool state.
// The empty state stands for a call that has not been seen yet.
var toolTransitions = map[State][]State{
	"":                  {StateInputStreaming, StateInputAvailable, StateOutputError},
	StateInputStreaming: {StateInputStreaming, StateInputAvailable, StateOutputError},
	StateInputAvailable: {StateInputAvailable, StateOutputAvailable, StateOutputError},
}

// CanTransition reports whether a tool part may move from one state to another.
// Terminal states have no outgoing edges.
func CanTransition(from, to State) bool {
	for _, next := range toolTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// PART TYPE
// =============================================================================

// Part is a typed fragment of a message. Only the fields relevant to the
// part's Type are populated.
type Part struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	State State  `json:"state,omitempty"`

	// Tool call fields
	ToolCallID       string          `json:"toolCallId,omitempty"`
	Input            json.RawMessage `json:"input,omitempty"`
	Output           json.RawMessage `json:"output,omitempty"`
	ErrorText        string          `json:"errorText,omitempty"`
	ProviderExecuted bool            `json:"providerExecuted,omitempty"`

	// blockID correlates text/reasoning deltas with their start chunk.
	blockID string
	// rawInput accumulates tool-input-delta fragments.
	rawInput string
}

// NewToolPart creates a tool part for the named tool.
func NewToolPart(toolName, toolCallID string) Part {
	return Part{Type: ToolPrefix + toolName, ToolCallID: toolCallID}
}

// IsTool reports whether the part is a tool call.
func (p *Part) IsTool() bool {
	return strings.HasPrefix(p.Type, ToolPrefix)
}

// ToolName returns the tool name for tool parts, or "".
func (p *Part) ToolName() string {
	if !p.IsTool() {
		return ""
	}
	return strings.TrimPrefix(p.Type, ToolPrefix)
}

// InputMap decodes the tool input into a map. Missing or partial input
// yields an empty map.
func (p *Part) InputMap() map[string]any {
	out := map[string]any{}
	if len(p.Input) > 0 {
		_ = json.Unmarshal(p.Input, &out)
	}
	return out
}

// InputString returns a string field of the tool input, or "".
func (p *Part) InputString(key string) string {
	s, _ := p.InputMap()[key].(string)
	return s
}

// OutputText renders the tool output for display. JSON strings are unquoted,
// anything else is returned as compact JSON.
func (p *Part) OutputText() string {
	if len(p.Output) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Output, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, p.Output); err != nil {
		return string(p.Output)
	}
	return buf.String()
}

func (p Part) clone() Part {
	if p.Input != nil {
		p.Input = append(json.RawMessage(nil), p.Input...)
	}
	if p.Output != nil {
		p.Output = append(json.RawMessage(nil), p.Output...)
	}
	return p
}
