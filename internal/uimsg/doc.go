// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package uimsg contains the UI message model shared by the completion
// endpoint and the chat session controller.
//
// A UI message is one conversational turn made of ordered parts: text,
// reasoning, step boundaries and tool calls. Tool call parts follow a small
// state machine keyed by their toolCallId.
//
// # Key Types
//
//   - Message: One turn with an ID, a Role and ordered Parts
//   - Part: A typed fragment (text, reasoning, step-start, tool-<name>)
//   - State: Streaming state of a text part or lifecycle state of a tool part
//   - Chunk: One framed event of the UI message stream
//
// # Usage
//
// Apply streamed chunks to the in-progress assistant message:
//
//	msg := uimsg.NewAssistantMessage()
//	for _, chunk := range chunks {
//	    if err := uimsg.Apply(msg, chunk); err != nil {
//	        log.Printf("chunk ignored: %v", err)
//	    }
//	}
//	fmt.Println(msg.Text())
package uimsg
