// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline implements the optional side pipelines that enrich a
// turn with auxiliary context: link-content fetch, web search, document
// retrieval, and conversation memory.
//
// Every pipeline is fail-soft and bounded. A failure or empty result
// degrades to an omitted context block and never aborts the turn; each
// call enforces its own timeout, a single retry, and a rate limit, and
// none of them may block turn cancellation.
package pipeline
