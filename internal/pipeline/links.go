// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// URL DETECTION
// =============================================================================

var urlRe = regexp.MustCompile(`https?://[^\s<>"']+`)

// DetectURLs returns the scheme-prefixed URLs found in user input, in
// order, without duplicates.
func DetectURLs(text string) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, u := range urlRe.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?)")
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// =============================================================================
// LINK FETCHER
// =============================================================================

const (
	maxLinkBody   = 256 * 1024 // bytes read per page
	maxLinkText   = 8000       // runes kept per page after stripping
	linkTimeout   = 8 * time.Second
	maxFetchLinks = 3
)

// LinkFetcher downloads pages referenced in user input and reduces them
// to plain text.
type LinkFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewLinkFetcher creates a fetcher with its own rate limit.
func NewLinkFetcher() *LinkFetcher {
	return &LinkFetcher{
		client:  &http.Client{Timeout: linkTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// FetchLinks fetches up to maxFetchLinks URLs and returns one labeled
// text block. Per-URL failures are skipped; an error is returned only
// when nothing could be fetched.
func (f *LinkFetcher) FetchLinks(ctx context.Context, urls []string) (string, error) {
	if len(urls) > maxFetchLinks {
		urls = urls[:maxFetchLinks]
	}

	var b strings.Builder
	fetched := 0
	for _, u := range urls {
		if err := f.limiter.Wait(ctx); err != nil {
			break
		}
		text, err := withRetry(ctx, func() (string, error) {
			return f.fetchOne(ctx, u)
		})
		if err != nil || text == "" {
			continue
		}
		if fetched > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("From " + u + ":\n" + text)
		fetched++
	}

	if fetched == 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no links could be fetched")
	}
	return b.String(), nil
}

func (f *LinkFetcher) fetchOne(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "loomchat/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("unexpected status: " + resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLinkBody))
	if err != nil {
		return "", err
	}
	return util.TruncateRunes(StripHTML(string(body)), maxLinkText), nil
}

// =============================================================================
// HTML STRIPPING
// =============================================================================

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	entityRe = regexp.MustCompile(`&[a-zA-Z#0-9]+;`)
)

// StripHTML reduces an HTML page to whitespace-normalized text.
func StripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = entityRe.ReplaceAllStringFunc(text, func(e string) string {
		switch e {
		case "&amp;":
			return "&"
		case "&lt;":
			return "<"
		case "&gt;":
			return ">"
		case "&quot;":
			return `"`
		case "&nbsp;", "&#160;":
			return " "
		default:
			return " "
		}
	})
	return util.CollapseWhitespace(text)
}

// =============================================================================
// RETRY
// =============================================================================

// withRetry runs fn and retries once after a short pause. The context
// governs both attempts.
func withRetry(ctx context.Context, fn func() (string, error)) (string, error) {
	out, err := fn()
	if err == nil || ctx.Err() != nil {
		return out, err
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(300 * time.Millisecond):
	}
	return fn()
}
