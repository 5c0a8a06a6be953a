// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for chatrelay.
//
// Configuration is a TOML file with sensible defaults, environment variable
// overrides, and validation. The server's system instructions can live in a
// separate file that is watched for changes.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: Completion endpoint settings (listen address, step limit)
//   - ProviderConfig: Model provider selection and credentials
//   - ClientConfig: Terminal client settings
//   - InstructionsWatcher: Live-reloading system instructions
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATRELAY_*, OPENROUTER_API_KEY, OPENAI_API_KEY)
//   - A .env file in the working directory
//   - --config path, or ~/.chatrelay/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Follow an instructions file:
//
//	w, err := config.NewInstructionsWatcher(cfg.Server.InstructionsFile)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//	srv.WithInstructions(w.Instructions)
package config
