// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/loomchat/internal/model"
	"github.com/jeranaias/loomchat/internal/stream"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderMarkdown renders markdown content for terminal display. Returns
// the original content if rendering fails or the renderer is unavailable.
func renderMarkdown(content string) string {
	markdownRendererOnce.Do(func() {
		width := TerminalWidth()
		if width > 100 {
			width = 100
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			markdownRenderer = r
		}
	})

	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// REASONING / ANSWER SPLIT
// =============================================================================

// splitReasoning separates a stored message body into its answer and
// reasoning parts. open reports whether the reasoning segment is still
// unterminated (mid-stream).
func splitReasoning(content string) (answer, reasoning string, open bool) {
	return stream.SplitReasoning(content)
}

// =============================================================================
// STATS LINE
// =============================================================================

// formatStats renders the post-answer metrics line.
func formatStats(m model.Metrics, reasoningMs int64) string {
	if !m.Defined() {
		return ""
	}

	parts := []string{
		"first token " + util.Itoa(int(m.FirstTokenLatencyMs)) + "ms",
		util.FormatFloat1(float64(m.ElapsedMs)/1000) + "s",
		util.FormatInt(m.OutputChars) + " chars",
		util.FormatFloat1(m.CharsPerSecond) + " c/s",
	}
	if reasoningMs > 0 {
		parts = append(parts, "thought "+util.FormatFloat1(float64(reasoningMs)/1000)+"s")
	}
	return strings.Join(parts, " | ")
}
