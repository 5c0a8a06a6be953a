// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// init configures the lipgloss colour profile from terminal capabilities.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// PALETTE
// =============================================================================

var (
	colorCyan    = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	colorPurple  = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	colorEmerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	colorAmber   = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	colorRose    = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// promptStyle is the REPL prompt
	promptStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)

	// welcomeStyle is the chat banner
	welcomeStyle = lipgloss.NewStyle().Foreground(colorPurple).Bold(true)

	// userStyle marks user messages in /history
	userStyle = lipgloss.NewStyle().Foreground(colorCyan)

	// toolStyle is a tool part line
	toolStyle = lipgloss.NewStyle().Foreground(colorEmerald)

	// questionStyle is a pending confirmation
	questionStyle = lipgloss.NewStyle().Foreground(colorAmber).Bold(true)

	// mutedStyle is reasoning and hints
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)

	// errorStyle is error lines
	errorStyle = lipgloss.NewStyle().Foreground(colorRose)

	// labelStyle is a key in key/value listings
	labelStyle = lipgloss.NewStyle().Foreground(colorMuted).Width(14)
)
