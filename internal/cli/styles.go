// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// COLOR PALETTE
// =============================================================================

var (
	// Cyan - prompts, commands, user highlights
	colorCyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

	// Purple - assistant output accents
	colorPurple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

	// Emerald - success states
	colorEmerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

	// Amber - warnings, reasoning indicator
	colorAmber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// Rose - errors
	colorRose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

	// Secondary text
	colorTextDim = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorEmerald)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorAmber)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRose).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)
)
