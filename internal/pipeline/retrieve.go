// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/persist"
)

// =============================================================================
// RETRIEVER
// =============================================================================

const (
	retrieveTimeout      = 10 * time.Second
	defaultRetrieveLimit = 4

	// minSimilarity drops chunks with no meaningful relation to the query.
	minSimilarity = 0.3
)

// Retriever performs similarity search over stored document chunks by
// embedding the query through Ollama and ranking against stored vectors.
type Retriever struct {
	llm        *ollama.Client
	store      persist.DocumentStore
	embedModel string
	limiter    *rate.Limiter
}

// NewRetriever creates a retriever. embedModel names the embedding model,
// e.g. "nomic-embed-text".
func NewRetriever(llm *ollama.Client, store persist.DocumentStore, embedModel string) *Retriever {
	return &Retriever{
		llm:        llm,
		store:      store,
		embedModel: embedModel,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

// Retrieve embeds the query and returns the best-matching chunks of the
// selected documents as one labeled block. Empty documentIDs searches all
// registered documents.
func (r *Retriever) Retrieve(ctx context.Context, query string, documentIDs []string, limit int) (string, error) {
	if r.llm == nil || r.store == nil || r.embedModel == "" {
		return "", errors.New("retrieval not configured")
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, retrieveTimeout)
	defer cancel()

	vec, err := withRetryVec(retrieveCtx, func() ([]float64, error) {
		return r.llm.Embed(retrieveCtx, r.embedModel, query)
	})
	if err != nil {
		return "", err
	}

	matches, err := r.store.SearchChunks(retrieveCtx, vec, documentIDs, limit)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	kept := 0
	for _, m := range matches {
		if m.Similarity < minSimilarity {
			continue
		}
		if kept > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Source + " (similarity " +
			strconv.FormatFloat(m.Similarity, 'f', 2, 64) + "):\n" + m.Text)
		kept++
	}
	if kept == 0 {
		return "", errors.New("no relevant chunks")
	}
	return b.String(), nil
}

// withRetryVec mirrors withRetry for vector results.
func withRetryVec(ctx context.Context, fn func() ([]float64, error)) ([]float64, error) {
	out, err := fn()
	if err == nil || ctx.Err() != nil {
		return out, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(300 * time.Millisecond):
	}
	return fn()
}
