// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/loomchat/internal/model"
	"github.com/jeranaias/loomchat/internal/stream"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a chat as a Markdown transcript. Reasoning
// segments are folded into collapsible <details> blocks so the answer
// reads cleanly while the reasoning stays available.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export renders the chat to Markdown.
func (e *MarkdownExporter) Export(chat *model.Chat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}
	if len(chat.Messages) == 0 {
		return nil, fmt.Errorf("chat has no messages")
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %q\n", chat.Title))
		sb.WriteString(fmt.Sprintf("date: %s\n", chat.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", chat.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(chat.Messages)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: loomchat\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", chat.Title))

	if chat.SystemPrompt != "" && e.options.IncludeMetadata {
		sb.WriteString("> System prompt: ")
		sb.WriteString(util.FirstLine(chat.SystemPrompt))
		sb.WriteString("\n\n")
	}

	for i, msg := range chat.Messages {
		if e.options.IncludeTimestamps {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n",
				roleLabel(msg.Role), msg.Timestamp.Format("15:04:05")))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", roleLabel(msg.Role)))
		}

		e.writeBody(&sb, msg)

		if msg.Role == model.RoleAssistant && e.options.IncludeMetadata {
			if stats := messageStats(msg); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}

		if i < len(chat.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// writeBody emits one message body, separating reasoning from the answer
// for assistant messages.
func (e *MarkdownExporter) writeBody(sb *strings.Builder, msg *model.Message) {
	body := msg.Display()
	if msg.Role != model.RoleAssistant {
		sb.WriteString(strings.TrimSpace(body))
		sb.WriteString("\n\n")
		if msg.Attachment != nil {
			sb.WriteString(fmt.Sprintf("*Attachment: %s*\n\n", msg.Attachment.Name))
		}
		return
	}

	answer, reasoning, _ := stream.SplitReasoning(body)
	if reasoning = strings.TrimSpace(reasoning); reasoning != "" {
		sb.WriteString("<details><summary>Reasoning</summary>\n\n")
		sb.WriteString(reasoning)
		sb.WriteString("\n\n</details>\n\n")
	}
	sb.WriteString(strings.TrimSpace(answer))
	sb.WriteString("\n\n")
}

// FileExtension returns the Markdown extension.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// roleLabel maps a role to its transcript heading.
func roleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "You"
	case model.RoleAssistant:
		return "Assistant"
	case model.RoleSystem:
		return "System"
	default:
		return string(role)
	}
}

// messageStats renders the per-message generation footnote.
func messageStats(msg *model.Message) string {
	if !msg.Stats.Defined() {
		return ""
	}
	parts := []string{
		formatDuration(msg.Stats.ElapsedMs),
		util.FormatInt(msg.Stats.OutputChars) + " chars",
		util.FormatFloat1(msg.Stats.CharsPerSecond) + " c/s",
	}
	if msg.ReasoningMs > 0 {
		parts = append(parts, "thought "+formatDuration(msg.ReasoningMs))
	}
	return "*" + strings.Join(parts, " | ") + "*"
}
