// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/loomchat/internal/model"
)

// storeUnderTest runs the shared Store contract against both backends.
func storeUnderTest(t *testing.T) map[string]DocumentStore {
	t.Helper()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "loomchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]DocumentStore{
		"sqlite": sqliteStore,
		"memory": NewMemStore(),
	}
}

func TestStoreSaveAndLoadChat(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chat := model.NewChat()
			chat.SystemPrompt = "be brief"
			require.NoError(t, store.SaveChatMeta(ctx, chat.Meta()))

			user := model.NewUserMessage("hello", nil)
			assistant := model.NewAssistantMessage()
			assistant.Content = "<think>hm</think>hi"
			assistant.IsLoading = false
			assistant.ReasoningMs = 42
			assistant.Stats = model.Metrics{
				FirstTokenLatencyMs: 120,
				ElapsedMs:           900,
				OutputChars:         20,
				CharsPerSecond:      25.5,
			}
			require.NoError(t, store.SaveMessage(ctx, chat.ID, user))
			require.NoError(t, store.SaveMessage(ctx, chat.ID, assistant))

			loaded, err := store.LoadChat(ctx, chat.ID)
			require.NoError(t, err)
			assert.Equal(t, "be brief", loaded.SystemPrompt)
			require.Len(t, loaded.Messages, 2)
			assert.Equal(t, model.RoleUser, loaded.Messages[0].Role)
			assert.Equal(t, "hello", loaded.Messages[0].Content)
			assert.Equal(t, int64(42), loaded.Messages[1].ReasoningMs)
			assert.Equal(t, int64(120), loaded.Messages[1].Stats.FirstTokenLatencyMs)
			assert.InDelta(t, 25.5, loaded.Messages[1].Stats.CharsPerSecond, 0.001)
		})
	}
}

// Upserting the same snapshot twice must not duplicate or reorder.
func TestStoreSaveMessageIdempotent(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chat := model.NewChat()
			require.NoError(t, store.SaveChatMeta(ctx, chat.Meta()))

			first := model.NewUserMessage("one", nil)
			second := model.NewUserMessage("two", nil)
			require.NoError(t, store.SaveMessage(ctx, chat.ID, first))
			require.NoError(t, store.SaveMessage(ctx, chat.ID, second))

			// Streamed updates rewrite the same row.
			second.Content = "two, extended"
			require.NoError(t, store.SaveMessage(ctx, chat.ID, second))
			require.NoError(t, store.SaveMessage(ctx, chat.ID, second))

			loaded, err := store.LoadChat(ctx, chat.ID)
			require.NoError(t, err)
			require.Len(t, loaded.Messages, 2)
			assert.Equal(t, "one", loaded.Messages[0].Content)
			assert.Equal(t, "two, extended", loaded.Messages[1].Content)
		})
	}
}

func TestStoreReplaceMessages(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chat := model.NewChat()
			require.NoError(t, store.SaveChatMeta(ctx, chat.Meta()))
			require.NoError(t, store.SaveMessage(ctx, chat.ID, model.NewUserMessage("old", nil)))

			fresh := []*model.Message{
				model.NewUserMessage("a", nil),
				model.NewUserMessage("b", nil),
			}
			require.NoError(t, store.ReplaceMessages(ctx, chat.ID, fresh))

			loaded, err := store.LoadChat(ctx, chat.ID)
			require.NoError(t, err)
			require.Len(t, loaded.Messages, 2)
			assert.Equal(t, "a", loaded.Messages[0].Content)
			assert.Equal(t, "b", loaded.Messages[1].Content)
		})
	}
}

func TestStoreListChatsByRecency(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := model.Meta{ID: "older", Title: "first", UpdatedAt: time.Now().Add(-time.Hour)}
			newer := model.Meta{ID: "newer", Title: "second", UpdatedAt: time.Now()}
			require.NoError(t, store.SaveChatMeta(ctx, older))
			require.NoError(t, store.SaveChatMeta(ctx, newer))

			metas, err := store.ListChats(ctx)
			require.NoError(t, err)
			require.Len(t, metas, 2)
			assert.Equal(t, "newer", metas[0].ID)
			assert.Equal(t, "older", metas[1].ID)
		})
	}
}

func TestStoreDeleteChat(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chat := model.NewChat()
			require.NoError(t, store.SaveChatMeta(ctx, chat.Meta()))
			require.NoError(t, store.DeleteChat(ctx, chat.ID))

			_, err := store.LoadChat(ctx, chat.ID)
			assert.ErrorIs(t, err, ErrChatNotFound)
			assert.ErrorIs(t, store.DeleteChat(ctx, chat.ID), ErrChatNotFound)
		})
	}
}

func TestStoreChunkSearchRanksBySimilarity(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc := Document{ID: "d1", Name: "notes.md"}
			chunks := []Chunk{
				{DocumentID: "d1", Source: "notes.md#1", Text: "orthogonal", Embedding: []float64{0, 1, 0}},
				{DocumentID: "d1", Source: "notes.md#2", Text: "aligned", Embedding: []float64{1, 0, 0}},
				{DocumentID: "d1", Source: "notes.md#3", Text: "close", Embedding: []float64{0.9, 0.1, 0}},
			}
			require.NoError(t, store.SaveDocument(ctx, doc, chunks))

			matches, err := store.SearchChunks(ctx, []float64{1, 0, 0}, []string{"d1"}, 2)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "aligned", matches[0].Text)
			assert.Equal(t, "close", matches[1].Text)
			assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float64{1}, []float64{1, 2}), "length mismatch")
	assert.Zero(t, CosineSimilarity([]float64{0, 0}, []float64{1, 2}), "zero magnitude")
}
