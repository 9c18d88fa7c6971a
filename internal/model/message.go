// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// AttachmentKind distinguishes how attachment content enters the prompt.
type AttachmentKind string

const (
	AttachmentText  AttachmentKind = "text"
	AttachmentImage AttachmentKind = "image"
)

// Attachment describes a file attached to a user message.
type Attachment struct {
	Name string         `json:"name"`
	Kind AttachmentKind `json:"kind"`

	// Text holds the extracted text for text attachments.
	Text string `json:"text,omitempty"`

	// Data holds base64-encoded bytes for image attachments.
	Data string `json:"data,omitempty"`
}

// IsImage reports whether the attachment is an image payload.
func (a *Attachment) IsImage() bool {
	return a != nil && a.Kind == AttachmentImage
}

// =============================================================================
// METRICS TYPE
// =============================================================================

// Metrics holds generation metrics for an assistant message. Recomputed on
// every fragment during streaming so callers can render live throughput.
type Metrics struct {
	// FirstTokenLatencyMs is the time from request start to first fragment.
	// Negative while no fragment has been observed.
	FirstTokenLatencyMs int64 `json:"first_token_latency_ms"`

	// ElapsedMs is the time from request start to the metrics snapshot.
	ElapsedMs int64 `json:"elapsed_ms"`

	// OutputChars counts accumulated output characters.
	OutputChars int `json:"output_chars"`

	// CharsPerSecond is output throughput since the first fragment.
	CharsPerSecond float64 `json:"chars_per_second"`
}

// Defined reports whether a first fragment has been observed.
func (m Metrics) Defined() bool {
	return m.FirstTokenLatencyMs >= 0
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a chat.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content is the model-facing text. For assistant messages it is the
	// full accumulated output including reasoning markers.
	Content string `json:"content"`

	// DisplayContent is the durable human-readable copy. For user messages
	// with injected context it wraps the context blocks in collapsible
	// markup; empty means "same as Content".
	DisplayContent string `json:"display_content,omitempty"`

	// Attachment is set on user messages only.
	Attachment *Attachment `json:"attachment,omitempty"`

	// Streaming state. IsLoading is true only while a turn is producing
	// this message; every pipeline exit path clears it.
	IsLoading  bool `json:"is_loading,omitempty"`
	IsThinking bool `json:"is_thinking,omitempty"`

	// ReasoningMs is the total time spent in the reasoning segment.
	// Monotonically non-decreasing while thinking, frozen on segment close.
	ReasoningMs int64 `json:"reasoning_ms,omitempty"`

	// Stats holds generation metrics (assistant messages).
	Stats Metrics `json:"stats,omitempty"`
}

// NewMessage creates a message with a generated ID and current timestamp.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Stats:     Metrics{FirstTokenLatencyMs: -1},
	}
}

// NewUserMessage creates a user message, optionally with an attachment.
func NewUserMessage(content string, att *Attachment) *Message {
	msg := NewMessage(RoleUser, content)
	msg.Attachment = att
	return msg
}

// NewAssistantMessage creates an assistant message in loading state.
// Created lazily by the stream interpreter on the first fragment.
func NewAssistantMessage() *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.IsLoading = true
	return msg
}

// Display returns the human-readable content view.
func (m *Message) Display() string {
	if m.DisplayContent != "" {
		return m.DisplayContent
	}
	return m.Content
}

// Clone returns a deep copy of the message. Persistence tasks snapshot
// messages via Clone so later mutation cannot leak into a pending write.
func (m *Message) Clone() *Message {
	clone := *m
	if m.Attachment != nil {
		att := *m.Attachment
		clone.Attachment = &att
	}
	return &clone
}

// Preview returns a single-line rune-truncated preview of the content.
func (m *Message) Preview(maxRunes int) string {
	runes := []rune(m.Display())
	if len(runes) <= maxRunes {
		return string(runes)
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
