// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/loomchat/internal/model"
)

func testChat() *model.Chat {
	chat := model.NewChat()
	chat.Title = "Sorting in Go"
	chat.Append(model.NewUserMessage("How do I sort a slice?", nil))

	reply := model.NewMessage(model.RoleAssistant,
		"<think>stdlib has sort.Slice</think>Use sort.Slice with a less function.")
	reply.Stats = model.Metrics{
		FirstTokenLatencyMs: 120,
		ElapsedMs:           2400,
		OutputChars:         64,
		CharsPerSecond:      26.7,
	}
	reply.ReasoningMs = 800
	chat.Append(reply)
	return chat
}

func TestMarkdownExport(t *testing.T) {
	chat := testChat()

	content, err := NewMarkdownExporter(nil).Export(chat)
	require.NoError(t, err)
	md := string(content)

	assert.Contains(t, md, "# Sorting in Go")
	assert.Contains(t, md, "### You")
	assert.Contains(t, md, "### Assistant")
	assert.Contains(t, md, "Use sort.Slice with a less function.")

	// Reasoning folds into a details block instead of raw marker tags.
	assert.Contains(t, md, "<details><summary>Reasoning</summary>")
	assert.Contains(t, md, "stdlib has sort.Slice")
	assert.NotContains(t, md, "<think>")

	assert.Contains(t, md, "64 chars")
	assert.Contains(t, md, "thought 800ms")
}

func TestMarkdownExportWithoutMetadata(t *testing.T) {
	chat := testChat()

	content, err := NewMarkdownExporter(&Options{
		IncludeMetadata:   false,
		IncludeTimestamps: false,
	}).Export(chat)
	require.NoError(t, err)
	md := string(content)

	assert.NotContains(t, md, "---\ntitle:")
	assert.NotContains(t, md, "chars")
	assert.Contains(t, md, "### Assistant\n")
}

func TestMarkdownExportRejectsEmptyChat(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(model.NewChat())
	require.Error(t, err)

	_, err = NewMarkdownExporter(nil).Export(nil)
	require.Error(t, err)
}

func TestJSONExportRoundTrips(t *testing.T) {
	chat := testChat()

	content, err := NewJSONExporter().Export(chat)
	require.NoError(t, err)

	var decoded model.Chat
	require.NoError(t, json.Unmarshal(content, &decoded))
	assert.Equal(t, chat.ID, decoded.ID)
	assert.Equal(t, chat.Title, decoded.Title)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, chat.Messages[1].Content, decoded.Messages[1].Content)
}

func TestToFileWritesUnderOutputDir(t *testing.T) {
	dir := t.TempDir()
	chat := testChat()

	path, err := Markdown(chat, &Options{
		OutputDir:         dir,
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	})
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "chat_Sorting_in_Go_"), base)
	assert.True(t, strings.HasSuffix(base, ".md"), base)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Sorting in Go")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b_c", sanitizeFilename(`a/b c`))
	assert.Equal(t, "untitled", sanitizeFilename(""))
	assert.Equal(t, strings.Repeat("x", 50), sanitizeFilename(strings.Repeat("x", 80)))
}
