// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"sort"
	"sync"

	"github.com/jeranaias/loomchat/internal/model"
)

// MemStore is an in-memory DocumentStore for tests and ephemeral sessions.
// Messages are stored as deep copies, so snapshot idempotence matches the
// durable store.
type MemStore struct {
	mu     sync.Mutex
	metas  map[string]model.Meta
	msgs   map[string][]*model.Message // chatID -> ordered list
	docs   map[string]Document
	chunks map[string][]Chunk
}

var _ DocumentStore = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		metas:  make(map[string]model.Meta),
		msgs:   make(map[string][]*model.Message),
		docs:   make(map[string]Document),
		chunks: make(map[string][]Chunk),
	}
}

func (s *MemStore) SaveChatMeta(ctx context.Context, meta model.Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[meta.ID] = meta
	return nil
}

func (s *MemStore) SaveMessage(ctx context.Context, chatID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.msgs[chatID]
	for i, existing := range list {
		if existing.ID == msg.ID {
			list[i] = msg.Clone()
			return nil
		}
	}
	s.msgs[chatID] = append(list, msg.Clone())
	return nil
}

func (s *MemStore) ReplaceMessages(ctx context.Context, chatID string, msgs []*model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*model.Message, len(msgs))
	for i, msg := range msgs {
		list[i] = msg.Clone()
	}
	s.msgs[chatID] = list
	return nil
}

func (s *MemStore) ListChats(ctx context.Context) ([]model.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metas := make([]model.Meta, 0, len(s.metas))
	for _, meta := range s.metas {
		meta.MessageCount = len(s.msgs[meta.ID])
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

func (s *MemStore) LoadChat(ctx context.Context, chatID string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.metas[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	chat := &model.Chat{
		ID:           chatID,
		Title:        meta.Title,
		SystemPrompt: meta.SystemPrompt,
		UpdatedAt:    meta.UpdatedAt,
	}
	for _, msg := range s.msgs[chatID] {
		chat.Messages = append(chat.Messages, msg.Clone())
	}
	return chat, nil
}

func (s *MemStore) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metas[chatID]; !ok {
		return ErrChatNotFound
	}
	delete(s.metas, chatID)
	delete(s.msgs, chatID)
	return nil
}

func (s *MemStore) SaveDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	s.chunks[doc.ID] = append([]Chunk(nil), chunks...)
	return nil
}

func (s *MemStore) ListDocuments(ctx context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func (s *MemStore) SearchChunks(ctx context.Context, query []float64, documentIDs []string, limit int) ([]ChunkMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		wanted[id] = true
	}

	var matches []ChunkMatch
	for docID, chunks := range s.chunks {
		if len(wanted) > 0 && !wanted[docID] {
			continue
		}
		for _, chunk := range chunks {
			matches = append(matches, ChunkMatch{
				Source:     chunk.Source,
				Text:       chunk.Text,
				Similarity: CosineSimilarity(query, chunk.Embedding),
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemStore) Close() error {
	return nil
}
