// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP completion endpoint.
//
// The endpoint accepts a conversation of UI messages, forwards it to the
// configured model provider and streams the model's output back as a UI
// message stream. Tools that carry an executor run on the server between
// model steps; the rest are left for the client to resolve.
//
// # Endpoints
//
//   - OPTIONS /completion - CORS preflight, always 204
//   - POST    /completion - Streamed completion
//   - GET     /health     - Health check
//   - GET     /metrics    - Prometheus metrics
//
// # Key Types
//
//   - Server: HTTP server with router and middleware
//   - CompletionRequest: Body of POST /completion
//   - Metrics: Prometheus collectors owned by one server
//
// # Usage
//
//	provider := cloud.NewOpenRouterClient(apiKey)
//	srv := server.NewServer(8787).WithProvider(provider)
//	if err := srv.Start(); err != nil {
//		slog.Error("SERVER_FAILED", "error", err)
//	}
package server
