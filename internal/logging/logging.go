// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides structured logging for loomchat.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls logger construction. The zero value logs Info and above
// to stderr in text format.
type Config struct {
	// Level is the minimum level to emit (default: slog.LevelInfo).
	Level slog.Level

	// LogDir, when set, additionally writes JSON log lines to
	// LogDir/loomchat_<date>.log.
	LogDir string

	// Quiet suppresses stderr output entirely (file logging still applies).
	Quiet bool
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger wraps slog.Logger with optional file output that must be closed.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New creates a logger from cfg. File logging failures degrade to
// stderr-only; they never fail construction.
func New(cfg Config) *Logger {
	l := &Logger{}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}

	if cfg.LogDir != "" {
		if f, err := openLogFile(cfg.LogDir); err == nil {
			l.file = f
			writers = append(writers, f)
		}
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 1:
		w = writers[0]
	case 2:
		w = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	if l.file != nil {
		l.Logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		l.Logger = slog.New(slog.NewTextHandler(w, opts))
	}
	return l
}

// Close flushes and closes the log file, if any. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	f.Sync()
	return f.Close()
}

// ParseLevel maps a config level string to a slog.Level. Unknown values
// fall back to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	name := "loomchat_" + time.Now().Format("2006-01-02") + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}

// =============================================================================
// DEFAULT LOGGER
// =============================================================================

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide logger (stderr, Info level).
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(Config{})
	})
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Intended for main and tests.
func SetDefault(l *Logger) {
	defaultOnce.Do(func() {})
	defaultLogger = l
}
