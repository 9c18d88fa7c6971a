// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with a local
// Ollama server. It covers health checks, model listing, streaming and
// non-streaming chat, one-shot generation, and embeddings.
package ollama
