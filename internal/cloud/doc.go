// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the language-model providers used by the
// completion endpoint.
//
// OpenRouter is the default provider and is spoken to directly over HTTP and
// Server-Sent Events. Any other OpenAI-compatible API can be used through
// the go-openai based client. Both normalise streamed output into Delta
// values so the endpoint does not care which one is configured.
//
// # Key Types
//
//   - Provider: Streaming chat interface implemented by every client
//   - OpenRouterClient: HTTP client for the OpenRouter API
//   - OpenAIClient: Client for OpenAI-compatible APIs
//   - ChatRequest / ChatMessage: Provider-side request and message shapes
//   - Delta: One normalised piece of streamed output
//
// # Usage
//
//	client := cloud.NewOpenRouterClient(apiKey)
//	err := client.Stream(ctx, cloud.ChatRequest{
//	    Messages: []cloud.ChatMessage{cloud.NewUserMessage("Hello")},
//	}, func(d cloud.Delta) error {
//	    fmt.Print(d.Content)
//	    return nil
//	})
//
// # Errors
//
// Streaming requests are never retried here. HTTP failures map to the
// sentinel errors (ErrAuthFailed, ErrRateLimited, ...) or *OpenRouterError,
// and API keys are never logged.
package cloud
