// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/loomchat/internal/ollama"
	"github.com/jeranaias/loomchat/internal/persist"
)

func TestDetectURLs(t *testing.T) {
	text := "see https://example.com/a, and http://other.test/b. Also https://example.com/a again"
	urls := DetectURLs(text)
	assert.Equal(t, []string{"https://example.com/a", "http://other.test/b"}, urls)

	assert.Empty(t, DetectURLs("no links here, just example.com mentioned"))
}

func TestStripHTML(t *testing.T) {
	html := `<html><head><style>body{color:red}</style><script>alert(1)</script></head>
		<body><h1>Title</h1><p>Some &amp; text&nbsp;here</p></body></html>`
	assert.Equal(t, "Title Some & text here", StripHTML(html))
}

func TestFetchLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good":
			w.Write([]byte("<html><body><p>useful page text</p></body></html>"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewLinkFetcher()

	// A failing URL is skipped, not fatal.
	block, err := f.FetchLinks(context.Background(), []string{srv.URL + "/missing", srv.URL + "/good"})
	require.NoError(t, err)
	assert.Contains(t, block, "useful page text")
	assert.Contains(t, block, srv.URL+"/good")
	assert.NotContains(t, block, "/missing")
}

func TestFetchLinksAllFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewLinkFetcher()
	_, err := f.FetchLinks(context.Background(), []string{srv.URL})
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.NotEmpty(t, r.URL.Query().Get("q"))
		w.Write([]byte(`{"results":[
			{"title":"First","url":"https://a.test","content":"first snippet"},
			{"title":"Second","url":"https://b.test","content":"second snippet"},
			{"title":"Third","url":"https://c.test","content":"third snippet"}
		]}`))
	}))
	defer srv.Close()

	// No LLM client: the raw text is used as the query.
	s := NewSearcher(srv.URL, nil, "", nil)
	block, err := s.Search(context.Background(), "what is searxng", SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Contains(t, block, "Query: what is searxng")
	assert.Contains(t, block, "First (https://a.test)")
	assert.Contains(t, block, "second snippet")
	assert.NotContains(t, block, "Third", "limit caps the result count")
}

func TestSearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	s := NewSearcher(srv.URL, nil, "", nil)
	_, err := s.Search(context.Background(), "anything", SearchOptions{})
	assert.Error(t, err)
}

func TestRetrieve(t *testing.T) {
	// Fake Ollama embeddings endpoint.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		w.Write([]byte(`{"embedding":[1,0,0]}`))
	}))
	defer srv.Close()

	store := persist.NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.SaveDocument(ctx, persist.Document{ID: "d1", Name: "guide.md"}, []persist.Chunk{
		{DocumentID: "d1", Source: "guide.md#1", Text: "relevant text", Embedding: []float64{0.95, 0.05, 0}},
		{DocumentID: "d1", Source: "guide.md#2", Text: "unrelated text", Embedding: []float64{0, 1, 0}},
	}))

	llm := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})
	r := NewRetriever(llm, store, "nomic-embed-text")

	block, err := r.Retrieve(ctx, "how do I configure this?", []string{"d1"}, 5)
	require.NoError(t, err)
	assert.Contains(t, block, "guide.md#1")
	assert.Contains(t, block, "relevant text")
	assert.NotContains(t, block, "unrelated text", "low-similarity chunks are dropped")
}

func TestRetrieveUnconfigured(t *testing.T) {
	r := NewRetriever(nil, nil, "")
	_, err := r.Retrieve(context.Background(), "q", nil, 1)
	assert.Error(t, err)
}
