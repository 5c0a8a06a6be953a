// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package uimsg

import (
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// CHUNK TYPES
// =============================================================================

// ChunkType tags one event of the UI message stream.
type ChunkType string

const (
	ChunkStart      ChunkType = "start"
	ChunkStartStep  ChunkType = "start-step"
	ChunkFinishStep ChunkType = "finish-step"
	ChunkFinish     ChunkType = "finish"
	ChunkError      ChunkType = "error"
	ChunkAbort      ChunkType = "abort"

	ChunkTextStart ChunkType = "text-start"
	ChunkTextDelta ChunkType = "text-delta"
	ChunkTextEnd   ChunkType = "text-end"

	ChunkReasoningStart ChunkType = "reasoning-start"
	ChunkReasoningDelta ChunkType = "reasoning-delta"
	ChunkReasoningEnd   ChunkType = "reasoning-end"

	ChunkToolInputStart     ChunkType = "tool-input-start"
	ChunkToolInputDelta     ChunkType = "tool-input-delta"
	ChunkToolInputAvailable ChunkType = "tool-input-available"
	ChunkToolInputError     ChunkType = "tool-input-error"
	ChunkToolOutput         ChunkType = "tool-output-available"
	ChunkToolOutputError    ChunkType = "tool-output-error"
)

// Chunk is one framed event of the UI message stream.
type Chunk struct {
	Type ChunkType `json:"type"`

	MessageID string `json:"messageId,omitempty"`

	// Text and reasoning blocks
	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	// Tool calls
	ToolCallID       string          `json:"toolCallId,omitempty"`
	ToolName         string          `json:"toolName,omitempty"`
	InputTextDelta   string          `json:"inputTextDelta,omitempty"`
	Input            json.RawMessage `json:"input,omitempty"`
	Output           json.RawMessage `json:"output,omitempty"`
	ProviderExecuted bool            `json:"providerExecuted,omitempty"`

	ErrorText    string `json:"errorText,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

// IsTerminal reports whether the chunk ends the stream.
func (c Chunk) IsTerminal() bool {
	return c.Type == ChunkFinish || c.Type == ChunkAbort
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTerminalPart is returned when a chunk targets a resolved tool part.
	ErrTerminalPart = errors.New("tool part already resolved")

	// ErrUnknownToolCall is returned when a chunk references a call that was never started.
	ErrUnknownToolCall = errors.New("unknown tool call")

	// ErrInvalidTransition is returned when a chunk would break the tool state machine.
	ErrInvalidTransition = errors.New("invalid tool state transition")

	// ErrUnknownChunk is returned for chunk types this package does not handle.
	ErrUnknownChunk = errors.New("unknown chunk type")
)

// =============================================================================
// APPLY
// =============================================================================

// Apply folds one stream chunk into msg.
//
// Text and reasoning deltas are appended in arrival order. Tool chunks upsert
// the part keyed by toolCallId. A chunk that targets a terminal tool part
// leaves the message untouched and returns ErrTerminalPart.
func Apply(msg *Message, c Chunk) error {
	switch c.Type {
	case ChunkStart:
		if msg.ID == "" {
			msg.ID = c.MessageID
		}
		return nil

	case ChunkStartStep:
		msg.Parts = append(msg.Parts, Part{Type: PartStepStart})
		return nil

	case ChunkFinishStep:
		msg.Finalize()
		return nil

	case ChunkTextStart:
		openBlock(msg, PartText, c.ID)
		return nil
	case ChunkTextDelta:
		appendBlock(msg, PartText, c.ID, c.Delta)
		return nil
	case ChunkTextEnd:
		closeBlock(msg, PartText, c.ID)
		return nil

	case ChunkReasoningStart:
		openBlock(msg, PartReasoning, c.ID)
		return nil
	case ChunkReasoningDelta:
		appendBlock(msg, PartReasoning, c.ID, c.Delta)
		return nil
	case ChunkReasoningEnd:
		closeBlock(msg, PartReasoning, c.ID)
		return nil

	case ChunkToolInputStart:
		p, err := upsertTool(msg, c, StateInputStreaming)
		if err != nil {
			return err
		}
		p.ProviderExecuted = c.ProviderExecuted
		return nil

	case ChunkToolInputDelta:
		p := msg.FindTool(c.ToolCallID)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrUnknownToolCall, c.ToolCallID)
		}
		if p.State.IsTerminal() {
			return fmt.Errorf("%w: %s", ErrTerminalPart, c.ToolCallID)
		}
		if p.State != StateInputStreaming {
			return fmt.Errorf("%w: %s delta in %s", ErrInvalidTransition, c.ToolCallID, p.State)
		}
		p.rawInput += c.InputTextDelta
		if partial := ParsePartialJSON(p.rawInput); partial != nil {
			p.Input = partial
		}
		return nil

	case ChunkToolInputAvailable:
		p, err := upsertTool(msg, c, StateInputAvailable)
		if err != nil {
			return err
		}
		p.Input = c.Input
		p.rawInput = ""
		p.ProviderExecuted = p.ProviderExecuted || c.ProviderExecuted
		return nil

	case ChunkToolInputError:
		p, err := upsertTool(msg, c, StateOutputError)
		if err != nil {
			return err
		}
		p.Input = c.Input
		p.ErrorText = c.ErrorText
		p.ProviderExecuted = p.ProviderExecuted || c.ProviderExecuted
		return nil

	case ChunkToolOutput, ChunkToolOutputError:
		p := msg.FindTool(c.ToolCallID)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrUnknownToolCall, c.ToolCallID)
		}
		next := StateOutputAvailable
		if c.Type == ChunkToolOutputError {
			next = StateOutputError
		}
		if err := transition(p, next); err != nil {
			return err
		}
		if next == StateOutputAvailable {
			p.Output = c.Output
		} else {
			p.ErrorText = c.ErrorText
		}
		p.ProviderExecuted = p.ProviderExecuted || c.ProviderExecuted
		return nil

	case ChunkError:
		msg.metadata().ErrorText = c.ErrorText
		msg.Finalize()
		return nil

	case ChunkAbort:
		msg.Finalize()
		return nil

	case ChunkFinish:
		if c.FinishReason != "" {
			msg.metadata().FinishReason = c.FinishReason
		}
		msg.Finalize()
		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownChunk, c.Type)
}

// ResolveTool records a client-supplied result on the tool part. It returns
// ErrTerminalPart when the call is already resolved.
func ResolveTool(msg *Message, toolCallID string, output json.RawMessage, errorText string) error {
	p := msg.FindTool(toolCallID)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownToolCall, toolCallID)
	}
	next := StateOutputAvailable
	if errorText != "" {
		next = StateOutputError
	}
	if err := transition(p, next); err != nil {
		return err
	}
	if next == StateOutputAvailable {
		p.Output = output
	} else {
		p.ErrorText = errorText
	}
	return nil
}

func transition(p *Part, next State) error {
	if p.State.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalPart, p.ToolCallID)
	}
	if !CanTransition(p.State, next) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, p.ToolCallID, p.State, next)
	}
	p.State = next
	return nil
}

func upsertTool(msg *Message, c Chunk, next State) (*Part, error) {
	p := msg.FindTool(c.ToolCallID)
	if p == nil {
		msg.Parts = append(msg.Parts, NewToolPart(c.ToolName, c.ToolCallID))
		p = &msg.Parts[len(msg.Parts)-1]
	}
	if err := transition(p, next); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// TEXT BLOCKS
// =============================================================================

func openBlock(msg *Message, kind, id string) *Part {
	msg.Parts = append(msg.Parts, Part{Type: kind, State: StateStreaming, blockID: id})
	return &msg.Parts[len(msg.Parts)-1]
}

func findBlock(msg *Message, kind, id string) *Part {
	for i := len(msg.Parts) - 1; i >= 0; i-- {
		p := &msg.Parts[i]
		if p.Type == kind && p.State == StateStreaming && p.blockID == id {
			return p
		}
	}
	return nil
}

// appendBlock appends a delta to the open block, opening one if the stream
// skipped the start chunk.
func appendBlock(msg *Message, kind, id, delta string) {
	p := findBlock(msg, kind, id)
	if p == nil {
		p = openBlock(msg, kind, id)
	}
	p.Text += delta
}

func closeBlock(msg *Message, kind, id string) {
	if p := findBlock(msg, kind, id); p != nil {
		p.State = StateDone
	}
}
