// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assemble

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jeranaias/loomchat/internal/model"
	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrInvalidChat         = errors.New("invalid chat")
	ErrNoModelSelected     = errors.New("no model selected")
	ErrUserMessageNotFound = errors.New("user message not found in history")
)

// =============================================================================
// LIMITS
// =============================================================================

const (
	// attachmentCap bounds attachment text in the model view.
	attachmentCap = 3000

	// auxCap bounds each of the search/links/retrieval sections.
	auxCap = 6000

	// defaultMaxMessages applies when settings carry no explicit budget.
	defaultMaxMessages = 20
)

// =============================================================================
// INPUTS AND OUTPUT
// =============================================================================

// Settings carries the per-turn assembly configuration.
type Settings struct {
	// Model is the selected inference model. Required.
	Model string

	// MaxMessages bounds the total assembled entry count, including the
	// new user entry and an optional system entry.
	MaxMessages int

	// Memory is an optional summary of older history, folded into the
	// system entry.
	Memory string
}

// Aux holds the side-pipeline context blocks. Empty fields are omitted.
type Aux struct {
	Search    string
	Links     string
	Retrieval string
}

// Prompt is the assembled result for one turn.
type Prompt struct {
	// Entries is the role-alternating message list sent to the model.
	// Empty when the image path is taken.
	Entries []ollama.Message

	// Flattened is the single prompt string for the image path.
	Flattened string

	// Images holds base64 payloads for the image path.
	Images []string

	// DisplayContent is the durable human-readable copy of the new user
	// entry, with context blocks wrapped in collapsible markup and not
	// length-capped.
	DisplayContent string
}

// =============================================================================
// ASSEMBLY
// =============================================================================

// Assemble builds the prompt for the turn whose user message is already
// appended to the chat. The referenced message supplies the new user text
// and the optional attachment.
func Assemble(chat *model.Chat, settings Settings, userMessageID string, aux Aux) (*Prompt, error) {
	if chat == nil || chat.ID == "" || len(chat.Messages) == 0 {
		return nil, ErrInvalidChat
	}
	if settings.Model == "" {
		return nil, ErrNoModelSelected
	}

	userMsg := chat.FindMessage(userMessageID)
	if userMsg == nil || userMsg.Role != model.RoleUser {
		return nil, ErrUserMessageNotFound
	}

	maxMessages := settings.MaxMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}

	modelText, displayText := renderUserEntry(userMsg, aux)

	// Image attachments bypass the multi-entry format entirely.
	if userMsg.Attachment.IsImage() {
		return &Prompt{
			Flattened:      flattenForImage(chat, settings, modelText),
			Images:         []string{userMsg.Attachment.Data},
			DisplayContent: displayText,
		}, nil
	}

	systemText := buildSystemText(chat.SystemPrompt, settings.Memory)

	reservedSlots := 1 // the new user entry
	if systemText != "" {
		reservedSlots++
	}
	availableSlots := maxMessages - reservedSlots
	if availableSlots < 0 {
		availableSlots = 0
	}

	history := selectHistory(chat.Messages, userMessageID, availableSlots)

	entries := make([]ollama.Message, 0, len(history)+2)
	if systemText != "" {
		entries = append(entries, ollama.NewSystemMessage(systemText))
	}
	for _, msg := range history {
		entries = append(entries, ollama.Message{
			Role:    msg.Role.String(),
			Content: cleanHistoryContent(msg.Content),
		})
	}
	entries = append(entries, ollama.NewUserMessage(modelText))

	return &Prompt{
		Entries:        mergeAdjacent(entries),
		DisplayContent: displayText,
	}, nil
}

// buildSystemText combines the chat's system prompt with the memory
// summary into one system entry.
func buildSystemText(systemPrompt, memory string) string {
	systemPrompt = strings.TrimSpace(systemPrompt)
	memory = strings.TrimSpace(memory)
	switch {
	case systemPrompt == "" && memory == "":
		return ""
	case memory == "":
		return systemPrompt
	case systemPrompt == "":
		return "Summary of the earlier conversation:\n" + memory
	default:
		return systemPrompt + "\n\nSummary of the earlier conversation:\n" + memory
	}
}

// selectHistory returns the most recent limit entries, skipping the entry
// under construction and any system entries.
func selectHistory(msgs []*model.Message, excludeID string, limit int) []*model.Message {
	var history []*model.Message
	for _, msg := range msgs {
		if msg.ID == excludeID || msg.Role == model.RoleSystem {
			continue
		}
		history = append(history, msg)
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// mergeAdjacent concatenates consecutive same-role entries with a blank
// line. Required because the transport expects strict role alternation;
// content is merged, never dropped.
func mergeAdjacent(entries []ollama.Message) []ollama.Message {
	if len(entries) == 0 {
		return entries
	}
	merged := entries[:1]
	for _, entry := range entries[1:] {
		last := &merged[len(merged)-1]
		if entry.Role == last.Role {
			if entry.Content != "" {
				if last.Content != "" {
					last.Content += "\n\n"
				}
				last.Content += entry.Content
			}
			continue
		}
		merged = append(merged, entry)
	}
	return merged
}

// =============================================================================
// HISTORY CLEANUP
// =============================================================================

var (
	contextBlockRe   = regexp.MustCompile(`(?s)<details type="context">.*?</details>`)
	reasoningBlockRe = regexp.MustCompile(`(?s)<(think|thinking|analysis|reasoning)>.*?</(think|thinking|analysis|reasoning)>`)
)

// cleanHistoryContent strips display-only markup before a historical entry
// is reused as model input. Collapsible context blocks are a rendering
// artifact, and reasoning segments are not fed back to the model. The
// stored display copy is untouched.
func cleanHistoryContent(content string) string {
	content = contextBlockRe.ReplaceAllString(content, "")
	content = reasoningBlockRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// =============================================================================
// USER ENTRY RENDERING
// =============================================================================

// auxSection is one labeled context block appended to the user entry.
type auxSection struct {
	label string
	text  string
	cap   int
}

// renderUserEntry produces the two views of the new user entry: the
// capped, flattened model view and the uncapped collapsible display view.
func renderUserEntry(userMsg *model.Message, aux Aux) (modelText, displayText string) {
	base := strings.TrimSpace(userMsg.Content)

	var sections []auxSection
	if att := userMsg.Attachment; att != nil && att.Kind == model.AttachmentText && att.Text != "" {
		sections = append(sections, auxSection{
			label: "Attached file: " + att.Name,
			text:  att.Text,
			cap:   attachmentCap,
		})
	}
	if aux.Search != "" {
		sections = append(sections, auxSection{label: "Search results", text: aux.Search, cap: auxCap})
	}
	if aux.Links != "" {
		sections = append(sections, auxSection{label: "Linked content", text: aux.Links, cap: auxCap})
	}
	if aux.Retrieval != "" {
		sections = append(sections, auxSection{label: "Retrieved context", text: aux.Retrieval, cap: auxCap})
	}

	if len(sections) == 0 {
		return base, base
	}

	var modelView, displayView strings.Builder
	modelView.WriteString(base)
	displayView.WriteString(base)
	for _, s := range sections {
		modelView.WriteString("\n\n[" + s.label + "]\n")
		modelView.WriteString(util.TruncateRunes(s.text, s.cap))

		displayView.WriteString("\n\n<details type=\"context\"><summary>" + s.label + "</summary>\n")
		displayView.WriteString(s.text)
		displayView.WriteString("\n</details>")
	}
	return modelView.String(), displayView.String()
}

// flattenForImage collapses system prompt, recent history, and the new
// user text into one prompt string for image-capable generate requests.
func flattenForImage(chat *model.Chat, settings Settings, userText string) string {
	var b strings.Builder
	if system := buildSystemText(chat.SystemPrompt, settings.Memory); system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	b.WriteString(userText)
	return b.String()
}
