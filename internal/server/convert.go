// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"fmt"
	"strings"

	"github.com/jeranaias/chatrelay/internal/cloud"
	"github.com/jeranaias/chatrelay/internal/uimsg"
)

// validateMessages checks the request history before anything is sent to
// the provider. Only user, assistant and system turns are accepted.
func validateMessages(messages []uimsg.Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("request must contain at least one message")
	}
	if len(messages) > MaxMessageCount {
		return fmt.Errorf("too many messages: maximum is %d", MaxMessageCount)
	}
	for i, msg := range messages {
		if !msg.Role.IsValid() {
			return fmt.Errorf("invalid role %q at message %d: must be one of user, assistant, system", msg.Role, i)
		}
	}
	return nil
}

// toProviderMessages flattens UI messages into the role/content history the
// provider expects. Order and role are preserved.
//
// Assistant messages are split at step-start markers. Each step becomes one
// assistant turn carrying its text and tool calls, followed by one tool
// message per resolved call. Unresolved calls are dropped because providers
// reject a tool call without a result. Reasoning is never sent back.
func toProviderMessages(messages []uimsg.Message) []cloud.ChatMessage {
	out := make([]cloud.ChatMessage, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case uimsg.RoleUser:
			out = append(out, cloud.NewUserMessage(msg.Text()))
		case uimsg.RoleSystem:
			out = append(out, cloud.NewSystemMessage(msg.Text()))
		case uimsg.RoleAssistant:
			out = appendAssistant(out, msg)
		}
	}
	return out
}

// assistantStep accumulates one model step of an assistant message.
type assistantStep struct {
	text    strings.Builder
	calls   []cloud.ToolCall
	results []cloud.ChatMessage
}

func (st *assistantStep) flush(out []cloud.ChatMessage) []cloud.ChatMessage {
	if st.text.Len() == 0 && len(st.calls) == 0 {
		return out
	}
	out = append(out, cloud.ChatMessage{
		Role:      cloud.RoleAssistant,
		Content:   st.text.String(),
		ToolCalls: st.calls,
	})
	out = append(out, st.results...)
	*st = assistantStep{}
	return out
}

func appendAssistant(out []cloud.ChatMessage, msg *uimsg.Message) []cloud.ChatMessage {
	var step assistantStep
	for i := range msg.Parts {
		p := &msg.Parts[i]
		switch {
		case p.Type == uimsg.PartStepStart:
			out = step.flush(out)
		case p.Type == uimsg.PartText:
			step.text.WriteString(p.Text)
		case p.IsTool() && p.State.IsTerminal():
			args := string(p.Input)
			if args == "" || args == "null" {
				args = "{}"
			}
			step.calls = append(step.calls, cloud.ToolCall{
				ID:   p.ToolCallID,
				Type: "function",
				Function: cloud.FunctionCall{
					Name:      p.ToolName(),
					Arguments: args,
				},
			})
			step.results = append(step.results, cloud.NewToolMessage(p.ToolCallID, toolResultContent(p)))
		}
	}
	return step.flush(out)
}

// toolResultContent is what the model sees as the result of a call.
func toolResultContent(p *uimsg.Part) string {
	if p.State == uimsg.StateOutputError {
		return "Error: " + p.ErrorText
	}
	return p.OutputText()
}
