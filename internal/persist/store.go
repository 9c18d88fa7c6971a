// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"errors"

	"github.com/jeranaias/loomchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrDatabaseError = errors.New("database error")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the persistence collaborator for chats and retrieval documents.
// All writes carry full snapshots and are idempotent.
type Store interface {
	// SaveChatMeta upserts chat metadata by chat ID.
	SaveChatMeta(ctx context.Context, meta model.Meta) error

	// SaveMessage upserts one message by message ID.
	SaveMessage(ctx context.Context, chatID string, msg *model.Message) error

	// ReplaceMessages replaces the chat's full message list transactionally.
	ReplaceMessages(ctx context.Context, chatID string, msgs []*model.Message) error

	// ListChats returns chat metadata, most recently updated first.
	ListChats(ctx context.Context) ([]model.Meta, error)

	// LoadChat returns the chat with its full message list.
	LoadChat(ctx context.Context, chatID string) (*model.Chat, error)

	// DeleteChat removes the chat and its messages.
	DeleteChat(ctx context.Context, chatID string) error

	Close() error
}

// Document is a retrieval source registered for similarity search.
type Document struct {
	ID   string
	Name string
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	DocumentID string
	Source     string
	Text       string
	Embedding  []float64
}

// ChunkMatch is a similarity-search hit.
type ChunkMatch struct {
	Source     string
	Text       string
	Similarity float64
}

// DocumentStore extends Store with retrieval document storage. The SQLite
// store implements it; similarity search runs over stored embeddings.
type DocumentStore interface {
	Store

	// SaveDocument registers a document and replaces its chunks.
	SaveDocument(ctx context.Context, doc Document, chunks []Chunk) error

	// ListDocuments returns all registered documents.
	ListDocuments(ctx context.Context) ([]Document, error)

	// SearchChunks ranks chunks of the given documents by cosine
	// similarity against the query embedding. Empty documentIDs searches
	// all documents.
	SearchChunks(ctx context.Context, query []float64, documentIDs []string, limit int) ([]ChunkMatch, error)
}
