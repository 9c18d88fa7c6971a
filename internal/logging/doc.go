// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides structured logging for loomchat.
//
// Built on log/slog: text output to stderr by default for CLI use,
// with optional JSON file logging under ~/.loomchat/logs/.
//
// # Usage
//
//	log := logging.Default()
//	log.Info("turn started", "chat_id", chatID)
//	log.Warn("search degraded", "error", err)
package logging
