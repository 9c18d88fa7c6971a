// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jeranaias/loomchat/internal/model"
	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// MEMORY SUMMARIZER
// =============================================================================

const (
	// memoryThreshold is how many messages a chat needs before older
	// history is summarized instead of dropped from the context window.
	memoryThreshold = 12

	// memoryKeepRecent messages stay verbatim; everything older feeds the
	// summary.
	memoryKeepRecent = 8

	memoryTimeout = 15 * time.Second
)

const memorySystemPrompt = "You summarize chat history. Keep key facts, " +
	"decisions, names, and unresolved questions. Be dense and factual. " +
	"Reply with the summary only."

// Summarizer condenses older conversation history into a memory block
// that rides along in the system entry.
type Summarizer struct {
	llm   *ollama.Client
	model string
}

// NewSummarizer creates a summarizer using the given (typically small)
// model.
func NewSummarizer(llm *ollama.Client, model string) *Summarizer {
	return &Summarizer{llm: llm, model: model}
}

// MemorySummary summarizes the chat's older messages. Returns false when
// the chat is short enough that no summary is needed or when
// summarization fails; the caller omits the block either way.
func (s *Summarizer) MemorySummary(ctx context.Context, chat *model.Chat) (string, bool) {
	if s.llm == nil || s.model == "" || chat == nil {
		return "", false
	}
	if len(chat.Messages) < memoryThreshold {
		return "", false
	}

	older := chat.Messages[:len(chat.Messages)-memoryKeepRecent]
	var transcript strings.Builder
	for _, msg := range older {
		transcript.WriteString(string(msg.Role) + ": " +
			util.TruncateRunes(msg.Display(), 500) + "\n")
	}

	summaryCtx, cancel := context.WithTimeout(ctx, memoryTimeout)
	defer cancel()

	summary, err := withRetry(summaryCtx, func() (string, error) {
		resp, err := s.llm.ChatWithOptions(summaryCtx, s.model, []ollama.Message{
			ollama.NewSystemMessage(memorySystemPrompt),
			ollama.NewUserMessage(transcript.String()),
		}, &ollama.Options{Temperature: 0.3, NumPredict: 500})
		if err != nil {
			return "", err
		}
		out := strings.TrimSpace(resp.Message.Content)
		if out == "" {
			return "", errors.New("empty summary")
		}
		return out, nil
	})
	if err != nil {
		return "", false
	}
	return summary, true
}
