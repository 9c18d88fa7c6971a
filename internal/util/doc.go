// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across loomchat packages.
//
// It contains UTF-8 safe string truncation, display-width aware trimming
// for terminal output, and crash-safe file writing.
//
// # Key Functions
//
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-width aware truncation (CJK safe)
//   - AtomicWriteFile: crash-safe file writing with fsync
package util
