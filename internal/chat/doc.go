// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the client side of a conversation with the
// completion endpoint.
//
// A Session owns the message list. One goroutine applies every change, so
// stream chunks, tool results and user actions are serialized without locks
// on the messages themselves. Streams are consumed chunk by chunk and a user
// action can land between any two chunks.
//
// # Key Types
//
//   - Session: Message list, stream lifecycle and automatic continuation
//   - Transport: Sends a history and returns a chunk stream
//   - HTTPTransport: Transport for POST {BaseURL}/completion
//   - ToolHandler: Hook run for client tool calls
//   - AutoResolver: Resolves getLocation without user input
//
// # Usage
//
//	transport := chat.NewHTTPTransport(cfg.Client.EndpointURL)
//	session := chat.NewSession(transport, chat.NewAutoResolver())
//	defer session.Close()
//
//	if err := session.SendMessage("What's the weather?"); err != nil {
//		return err
//	}
//	for range session.Subscribe() {
//		render(session.Messages())
//	}
package chat
