// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package uimsg

import (
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Metadata carries per-message information that is not a part.
type Metadata struct {
	FinishReason string `json:"finishReason,omitempty"`
	ErrorText    string `json:"errorText,omitempty"`
}

// Message represents a single turn in a conversation.
type Message struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Parts    []Part    `json:"parts"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.NewString()
}

// NewUserMessage creates a user message holding a single text part.
func NewUserMessage(text string) *Message {
	return &Message{
		ID:    NewID(),
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text, State: StateDone}},
	}
}

// NewAssistantMessage creates an empty assistant message ready for streaming.
// The ID is assigned by the first "start" chunk when the stream carries one.
func NewAssistantMessage() *Message {
	return &Message{Role: RoleAssistant}
}

// Text returns the concatenation of all text parts in order.
func (m *Message) Text() string {
	return m.join(PartText)
}

// Reasoning returns the concatenation of all reasoning parts in order.
func (m *Message) Reasoning() string {
	return m.join(PartReasoning)
}

func (m *Message) join(kind string) string {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	var sb strings.Builder
	for i := range m.Parts {
		if m.Parts[i].Type == kind {
			sb.WriteString(m.Parts[i].Text)
		}
	}
	return sb.String()
}

// ToolParts returns pointers to the tool call parts of the message.
func (m *Message) ToolParts() []*Part {
	var out []*Part
	for i := range m.Parts {
		if m.Parts[i].IsTool() {
			out = append(out, &m.Parts[i])
		}
	}
	return out
}

// FindTool returns the tool part with the given call id, or nil.
func (m *Message) FindTool(toolCallID string) *Part {
	for i := range m.Parts {
		if m.Parts[i].IsTool() && m.Parts[i].ToolCallID == toolCallID {
			return &m.Parts[i]
		}
	}
	return nil
}

// IsStreaming reports whether any text or reasoning part is still open.
func (m *Message) IsStreaming() bool {
	for i := range m.Parts {
		if m.Parts[i].State == StateStreaming {
			return true
		}
	}
	return false
}

// ErrorText returns the stream error recorded on the message, if any.
func (m *Message) ErrorText() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata.ErrorText
}

// Finalize closes every open text and reasoning part. Tool parts keep their
// state, since an unresolved tool call is still waiting for a result.
func (m *Message) Finalize() {
	for i := range m.Parts {
		if m.Parts[i].State == StateStreaming {
			m.Parts[i].State = StateDone
		}
	}
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Parts = make([]Part, len(m.Parts))
	for i := range m.Parts {
		out.Parts[i] = m.Parts[i].clone()
	}
	if m.Metadata != nil {
		md := *m.Metadata
		out.Metadata = &md
	}
	return &out
}

// CloneAll deep-copies a message list.
func CloneAll(msgs []*Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m.Clone()
	}
	return out
}

func (m *Message) metadata() *Metadata {
	if m.Metadata == nil {
		m.Metadata = &Metadata{}
	}
	return m.Metadata
}
