// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turn orchestrates one conversational turn end to end: side
// pipelines, context assembly, the streaming transport call, stream
// interpretation, throttled persistence with a mandatory final flush, and
// follow-ups such as title generation.
//
// The controller owns single-flight cancellation per chat: starting a new
// turn revokes any outstanding cancellation token for the same chat, so
// at most one turn is ever active per chat session.
package turn
