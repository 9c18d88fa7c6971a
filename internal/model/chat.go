// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the placeholder title new chats carry until the first
// turn completes and a generated title replaces it.
const DefaultTitle = "New chat"

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat is a conversation: an ordered message list plus metadata.
// The persistence layer owns the durable copy; the turn controller works
// on a transient in-memory copy for the duration of one turn.
type Chat struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Messages     []*Message `json:"messages"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewChat creates an empty chat with the placeholder title.
func NewChat() *Chat {
	now := time.Now()
	return &Chat{
		ID:        uuid.New().String(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message and bumps the recency timestamp.
func (c *Chat) Append(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
}

// FindMessage returns the message with the given ID, or nil.
func (c *Chat) FindMessage(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// HasDefaultTitle reports whether the chat still carries the placeholder
// title, i.e. no generated title has been assigned yet.
func (c *Chat) HasDefaultTitle() bool {
	return c.Title == "" || c.Title == DefaultTitle
}

// Meta is the chat metadata snapshot used for meta-only persistence writes
// and for listing chats without loading message bodies.
type Meta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count,omitempty"`
	Preview      string    `json:"preview,omitempty"`
}

// Meta returns the chat's metadata snapshot.
func (c *Chat) Meta() Meta {
	preview := ""
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			preview = m.Preview(80)
			break
		}
	}
	return Meta{
		ID:           c.ID,
		Title:        c.Title,
		SystemPrompt: c.SystemPrompt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		Preview:      preview,
	}
}
