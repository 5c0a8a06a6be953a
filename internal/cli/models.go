// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/cloud"
	"github.com/jeranaias/chatrelay/internal/config"
)

// modelsTimeout bounds the model listing request.
const modelsTimeout = 30 * time.Second

func newModelsCommand(flags *rootFlags) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the provider's models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			lister, err := modelLister(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), modelsTimeout)
			defer cancel()
			models, err := lister.ListModels(ctx)
			if err != nil {
				return fmt.Errorf("failed to list models: %w", err)
			}
			printModels(cmd.OutOrStdout(), filterModels(models, filter), cfg.Provider.Model, GetTerminalWidth())
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only show models whose id contains this text")
	return cmd
}

func modelLister(cfg *config.Config) (cloud.ModelLister, error) {
	provider, err := cloud.NewProvider(cloud.ProviderOptions{
		Kind:    cfg.Provider.Kind,
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.Provider.Model,
	})
	if err != nil {
		return nil, err
	}
	lister, ok := provider.(cloud.ModelLister)
	if !ok {
		return nil, fmt.Errorf("provider %s cannot list models", cfg.Provider.Kind)
	}
	return lister, nil
}

// filterModels keeps models whose id contains filter (case-insensitive),
// sorted by id.
func filterModels(models []cloud.ModelInfo, filter string) []cloud.ModelInfo {
	filter = strings.ToLower(strings.TrimSpace(filter))
	out := make([]cloud.ModelInfo, 0, len(models))
	for _, m := range models {
		if filter == "" || strings.Contains(strings.ToLower(m.ID), filter) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// printModels writes one model per line; the configured model is starred.
func printModels(w io.Writer, models []cloud.ModelInfo, current string, width int) {
	if len(models) == 0 {
		fmt.Fprintln(w, "No models found.")
		return
	}
	for _, m := range models {
		marker := "  "
		if m.ID == current {
			marker = "* "
		}
		line := marker + m.ID
		if m.ContextSize > 0 {
			line += fmt.Sprintf("  (%dk context)", m.ContextSize/1000)
		}
		if m.Name != "" && m.Name != m.ID {
			line += "  " + m.Name
		}
		fmt.Fprintln(w, runewidth.Truncate(line, width, "..."))
	}
}
