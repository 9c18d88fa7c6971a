// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// SEARCH OPTIONS
// =============================================================================

const (
	searchTimeout      = 10 * time.Second
	defaultSearchLimit = 5
	maxSnippetRunes    = 400
)

// SearchOptions controls one search call.
type SearchOptions struct {
	// Limit caps the number of results folded into the block.
	Limit int

	// FollowLinks fetches the top result pages and appends their text.
	FollowLinks bool
}

// searxResponse mirrors the SearxNG JSON API result envelope.
type searxResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// =============================================================================
// SEARCHER
// =============================================================================

// Searcher queries a SearxNG instance and renders ranked results as one
// context block. An Ollama client, when present, rewrites the raw user
// text into a focused search query first.
type Searcher struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter

	llm        *ollama.Client
	queryModel string

	links *LinkFetcher
}

// NewSearcher creates a searcher against the given SearxNG endpoint,
// e.g. "http://127.0.0.1:8888".
func NewSearcher(endpoint string, llm *ollama.Client, queryModel string, links *LinkFetcher) *Searcher {
	return &Searcher{
		endpoint:   strings.TrimRight(endpoint, "/"),
		client:     &http.Client{Timeout: searchTimeout},
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 2),
		llm:        llm,
		queryModel: queryModel,
		links:      links,
	}
}

// Search runs one search and returns the rendered block. The ranking is
// the engine's own; results pass through in order.
func (s *Searcher) Search(ctx context.Context, userText string, opts SearchOptions) (string, error) {
	if s.endpoint == "" {
		return "", errors.New("no search endpoint configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	query := s.generateQuery(ctx, userText)

	body, err := withRetry(ctx, func() (string, error) {
		return s.fetchResults(ctx, query)
	})
	if err != nil {
		return "", err
	}

	var parsed searxResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return "", err
	}
	if len(parsed.Results) == 0 {
		return "", errors.New("no search results")
	}
	if len(parsed.Results) > limit {
		parsed.Results = parsed.Results[:limit]
	}

	var b strings.Builder
	b.WriteString("Query: " + query)
	var followURLs []string
	for _, r := range parsed.Results {
		b.WriteString("\n\n" + r.Title + " (" + r.URL + ")\n")
		b.WriteString(util.TruncateRunes(util.CollapseWhitespace(r.Content), maxSnippetRunes))
		followURLs = append(followURLs, r.URL)
	}

	if opts.FollowLinks && s.links != nil {
		if pages, err := s.links.FetchLinks(ctx, followURLs); err == nil && pages != "" {
			b.WriteString("\n\n" + pages)
		}
	}
	return b.String(), nil
}

func (s *Searcher) fetchResults(ctx context.Context, query string) (string, error) {
	u := s.endpoint + "/search?format=json&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("search failed: " + resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// generateQuery asks a small model to turn conversational input into a
// search query. Falls back to the raw text on any failure.
func (s *Searcher) generateQuery(ctx context.Context, userText string) string {
	if s.llm == nil || s.queryModel == "" {
		return util.FirstLine(userText)
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := s.llm.ChatWithOptions(queryCtx, s.queryModel, []ollama.Message{
		ollama.NewSystemMessage("Rewrite the user's message as a short web search query. Reply with the query only."),
		ollama.NewUserMessage(util.TruncateRunes(userText, 1000)),
	}, &ollama.Options{Temperature: 0.3, NumPredict: 40})
	if err != nil {
		return util.FirstLine(userText)
	}

	query := strings.Trim(strings.TrimSpace(resp.Message.Content), `"`)
	if query == "" {
		return util.FirstLine(userText)
	}
	return util.FirstLine(query)
}
