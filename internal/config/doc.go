// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for loomchat.
//
// Configuration lives at ~/.loomchat/config.toml, with sensible defaults,
// environment variable overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (LOOMCHAT_*)
//   - ~/.loomchat/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	model := cfg.DefaultModel
//	limit := cfg.Context.MaxMessages
//
// Watch for live changes:
//
//	w, err := config.Watch(path, logger, func(cfg *config.Config) { ... })
//	defer w.Close()
package config
