// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
//
// # Key Types
//
//   - Chat: a conversation with messages, optional system prompt, recency
//   - Message: single message with role, content, attachment, streaming
//     state and generation metrics
//   - Attachment: a file attached to a user message (text or image)
//   - Role: message role enumeration (user, assistant, system)
//
// Messages carry two content views: Content is what the model sees and
// what gets streamed; DisplayContent is the durable human-readable copy
// which may additionally wrap injected context in collapsible markup.
package model
