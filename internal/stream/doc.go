// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream interprets the incremental output of a streaming chat
// request. It classifies fragments into reasoning and answer text, drives
// the live reasoning timer, recomputes throughput metrics on every
// fragment, and publishes message snapshots to an observer callback.
//
// Two reasoning encodings are supported. Tag encoding carries inline
// markers such as <think>...</think> inside the answer channel, possibly
// split across fragment boundaries. Channel encoding delivers reasoning
// through a dedicated field on each fragment. Whichever encoding is
// observed first is latched for the remainder of the turn.
package stream
