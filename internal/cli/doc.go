// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatrelay command-line interface.
//
// The root command has these subcommands:
//
//   - serve: run the completion endpoint
//   - chat: interactive terminal client for a completion endpoint
//   - models: list the provider's models
//   - config: show or initialise the configuration file
//   - version: print version information
//
// # Key Types
//
//   - Renderer: turns message parts into terminal text
//   - chatREPL: the line editor loop driving a chat.Session
//   - liveView: throttled in-place repaint of the streaming message
//
// # Usage
//
//	func main() {
//	    cli.Execute()
//	}
package cli
