// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
)

func TestNewMessageIdentity(t *testing.T) {
	a := NewMessage(RoleUser, "hi")
	b := NewMessage(RoleUser, "hi")

	if a.ID == "" || b.ID == "" {
		t.Fatal("expected generated IDs")
	}
	if a.ID == b.ID {
		t.Error("expected distinct IDs")
	}
	if a.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestNewAssistantMessageIsLoading(t *testing.T) {
	m := NewAssistantMessage()
	if !m.IsLoading {
		t.Error("assistant message should start loading")
	}
	if m.Role != RoleAssistant {
		t.Errorf("role = %q, want assistant", m.Role)
	}
	if m.Stats.Defined() {
		t.Error("metrics should be undefined before first fragment")
	}
}

func TestMessageDisplayFallsBackToContent(t *testing.T) {
	m := NewMessage(RoleUser, "plain")
	if m.Display() != "plain" {
		t.Errorf("Display = %q", m.Display())
	}

	m.DisplayContent = "decorated"
	if m.Display() != "decorated" {
		t.Errorf("Display = %q", m.Display())
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	m := NewUserMessage("hi", &Attachment{Name: "a.txt", Kind: AttachmentText, Text: "body"})
	clone := m.Clone()

	clone.Content = "changed"
	clone.Attachment.Text = "changed"

	if m.Content != "hi" {
		t.Error("clone mutation leaked into original content")
	}
	if m.Attachment.Text != "body" {
		t.Error("clone mutation leaked into original attachment")
	}
}

func TestChatAppendBumpsRecency(t *testing.T) {
	c := NewChat()
	before := c.UpdatedAt

	c.Append(NewMessage(RoleUser, "hi"))
	if len(c.Messages) != 1 {
		t.Fatalf("len(Messages) = %d", len(c.Messages))
	}
	if c.UpdatedAt.Before(before) {
		t.Error("UpdatedAt went backwards")
	}
}

func TestChatHasDefaultTitle(t *testing.T) {
	c := NewChat()
	if !c.HasDefaultTitle() {
		t.Error("new chat should have default title")
	}
	c.Title = "Debugging a goroutine leak"
	if c.HasDefaultTitle() {
		t.Error("renamed chat should not report default title")
	}
}

func TestChatMetaPreview(t *testing.T) {
	c := NewChat()
	c.Append(NewMessage(RoleSystem, "system prompt"))
	c.Append(NewMessage(RoleUser, "what is a mutex?"))

	meta := c.Meta()
	if meta.Preview != "what is a mutex?" {
		t.Errorf("Preview = %q", meta.Preview)
	}
	if meta.MessageCount != 2 {
		t.Errorf("MessageCount = %d", meta.MessageCount)
	}
}
