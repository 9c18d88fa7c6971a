// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxRunes int
		want     string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"truncated", "hello world", 8, "hello..."},
		{"zero max", "hello", 0, ""},
		{"tiny max", "hello", 2, "he"},
		{"multibyte", "日本語のテキスト", 5, "日本..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateRunes(tt.input, tt.maxRunes)
			if got != tt.want {
				t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.input, tt.maxRunes, got, tt.want)
			}
		})
	}
}

func TestTruncateWidth(t *testing.T) {
	// Double-width characters should count as 2 columns.
	got := TruncateWidth("日本語テキスト", 8)
	if got == "日本語テキスト" {
		t.Error("expected truncation of wide string")
	}

	if got := TruncateWidth("abc", 10); got != "abc" {
		t.Errorf("expected no truncation, got %q", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("\n\n  first  \nsecond"); got != "first" {
		t.Errorf("FirstLine = %q, want %q", got, "first")
	}
	if got := FirstLine("   \n  \n"); got != "" {
		t.Errorf("FirstLine of blank input = %q, want empty", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("a\nb   c\t d"); got != "a b c d" {
		t.Errorf("CollapseWhitespace = %q", got)
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.txt")

	if err := AtomicWriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}

	// Overwrite must replace, not append.
	if err := AtomicWriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("second AtomicWriteFile failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "x" {
		t.Errorf("content after overwrite = %q, want %q", data, "x")
	}
}
