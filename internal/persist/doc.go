// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist stores chats, messages, and retrieval documents, and
// coordinates throttled writes during streaming.
//
// The Store interface exposes idempotent full-snapshot writes; applying
// the same snapshot twice yields identical stored state. The SQLite
// implementation is the durable backend; MemStore backs tests and
// ephemeral sessions.
//
// The Coordinator sits between the turn pipeline and a Store. Rapid
// submissions of the same write kind are coalesced with a trailing-edge
// throttle so a fast stream does not hammer the database; an explicit
// Flush executes the latest pending snapshots synchronously.
package persist
