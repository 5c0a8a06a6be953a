// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/logging"
)

// Version information (set at build time by main)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configPath string
	logLevel   string
}

// load reads the configuration and initialises logging.
func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	logging.Init(cfg.Log.Level)
	return cfg, nil
}

// path returns the config file the commands read.
func (f *rootFlags) path() (string, error) {
	if f.configPath != "" {
		return f.configPath, nil
	}
	return config.ConfigPath()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "Streaming chat relay with tool calls",
		Long: `chatrelay relays chat completions from OpenRouter or an OpenAI-compatible
API to clients as a UI message stream, and ships a terminal client.

Run 'chatrelay serve' to start the endpoint and 'chatrelay chat' to talk to it.`,
		Version:       fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (default is $HOME/.chatrelay/config.toml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(flags),
		newChatCommand(flags),
		newModelsCommand(flags),
		newConfigCommand(flags),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chatrelay %s\n", Version)
			fmt.Fprintf(out, "  Commit:  %s\n", GitCommit)
			fmt.Fprintf(out, "  Built:   %s\n", BuildDate)
			fmt.Fprintf(out, "  Go:      %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
