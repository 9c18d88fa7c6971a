// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat transcripts to standalone files.
//
// Two formats are supported: Markdown with a YAML frontmatter header for
// reading and sharing, and JSON as a faithful dump of the stored chat that
// can be re-imported. Files are written atomically so a crash mid-export
// never leaves a truncated transcript behind.
package export
