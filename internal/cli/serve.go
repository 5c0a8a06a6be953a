// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Completion endpoint command for the chatrelay CLI.
//
// Command: serve
// Short:   Run the completion endpoint
//
// Examples:
//   chatrelay serve                        Listen on server.host:server.port
//   chatrelay serve --port 9000            Listen on another port
//   chatrelay serve --config ./relay.toml  Use a specific config file

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/cloud"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/server"
)

// ShutdownTimeout bounds the graceful shutdown of `serve`.
const ShutdownTimeout = 10 * time.Second

func newServeCommand(flags *rootFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the completion endpoint",
		Long: `Run the HTTP completion endpoint.

POST /completion streams model output as a UI message stream. Weather
lookups run on the server; location and confirmation requests are sent
to the client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				if port < 1 || port > 65535 {
					return fmt.Errorf("--port %d out of range 1-65535", port)
				}
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// buildServer assembles the endpoint from configuration. The returned
// cleanup stops the instructions watcher, if any.
func buildServer(cfg *config.Config) (*server.Server, func(), error) {
	provider, err := cloud.NewProvider(cloud.ProviderOptions{
		Kind:     cfg.Provider.Kind,
		APIKey:   cfg.Provider.APIKey,
		BaseURL:  cfg.Provider.BaseURL,
		Model:    cfg.Provider.Model,
		SiteURL:  cfg.Provider.SiteURL,
		SiteName: cfg.Provider.SiteName,
	})
	if err != nil {
		return nil, nil, err
	}
	if !provider.IsConfigured() {
		slog.Warn("PROVIDER_NOT_CONFIGURED", "provider", cfg.Provider.Kind,
			"hint", "set OPENROUTER_API_KEY or provider.api_key")
	} else if fp, ok := provider.(interface{ KeyFingerprint() string }); ok {
		slog.Info("PROVIDER_READY", "provider", cfg.Provider.Kind, "model", provider.Model(), "key", fp.KeyFingerprint())
	}

	srv := server.NewServer(cfg.Server.Port).
		WithHost(cfg.Server.Host).
		WithProvider(provider).
		WithMaxSteps(cfg.Server.MaxSteps).
		WithToolTimeout(time.Duration(cfg.Server.ToolTimeoutSecs) * time.Second)

	cleanup := func() {}
	if cfg.Server.InstructionsFile != "" {
		watcher, err := config.NewInstructionsWatcher(cfg.Server.InstructionsFile)
		if err != nil {
			return nil, nil, err
		}
		srv.WithInstructions(watcher.Instructions)
		cleanup = func() { watcher.Close() }
		slog.Info("INSTRUCTIONS_LOADED", "path", cfg.Server.InstructionsFile)
	}
	return srv, cleanup, nil
}

// runServe serves until the listener fails or a signal arrives.
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, cleanup, err := buildServer(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
