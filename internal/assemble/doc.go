// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assemble builds the bounded, role-alternating prompt for one
// turn from chat history plus auxiliary context blocks (attachment text,
// search results, linked pages, retrieved document snippets).
//
// The assembled prompt never exceeds the configured entry budget and
// never contains two adjacent entries of the same role; overflow is
// resolved by selecting the most recent history and merging neighbors,
// never by silently dropping content inside the window.
package assemble
