// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/loomchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete loomchat configuration.
type Config struct {
	Version string `toml:"version"`

	// DefaultModel is the chat model used for new sessions.
	DefaultModel string `toml:"default_model"`

	Ollama    OllamaConfig    `toml:"ollama"`
	Context   ContextConfig   `toml:"context"`
	Persist   PersistConfig   `toml:"persist"`
	Search    SearchConfig    `toml:"search"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Memory    MemoryConfig    `toml:"memory"`
	Title     TitleConfig     `toml:"title"`
	UI        UIConfig        `toml:"ui"`
	Log       LogConfig       `toml:"log"`
}

// OllamaConfig contains the inference backend settings.
type OllamaConfig struct {
	// URL is the base URL of the Ollama server.
	URL string `toml:"url"`
	// Think requests a dedicated reasoning channel from models that
	// support one.
	Think bool `toml:"think"`
	// KeepAlive controls how long the model stays loaded (e.g. "5m").
	KeepAlive string `toml:"keep_alive"`
	// RequestTimeoutSecs bounds non-streaming requests.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// ContextConfig bounds prompt assembly.
type ContextConfig struct {
	// MaxMessages is the total context budget in prompt entries,
	// including the system entry and the new user entry.
	MaxMessages int `toml:"max_messages"`
	// SystemPrompt is prepended to every conversation when non-empty.
	SystemPrompt string `toml:"system_prompt"`
}

// PersistConfig contains storage settings and write-throttle tunables.
type PersistConfig struct {
	// DBPath is the SQLite database path (empty = ~/.loomchat/loomchat.db).
	DBPath string `toml:"db_path"`
	// MessageWindowMs throttles streaming message writes.
	MessageWindowMs int `toml:"message_window_ms"`
	// MessageListWindowMs throttles list-shape writes.
	MessageListWindowMs int `toml:"message_list_window_ms"`
	// ChatMetaWindowMs throttles chat metadata writes.
	ChatMetaWindowMs int `toml:"chat_meta_window_ms"`
}

// SearchConfig contains web search settings.
type SearchConfig struct {
	// Enabled turns the search side pipeline on.
	Enabled bool `toml:"enabled"`
	// Endpoint is the SearxNG instance base URL.
	Endpoint string `toml:"endpoint"`
	// QueryModel rewrites the user text into a search query; empty
	// uses the first line of the user text verbatim.
	QueryModel string `toml:"query_model"`
	// FollowLinks fetches the top result pages for full text.
	FollowLinks bool `toml:"follow_links"`
}

// RetrievalConfig contains document retrieval settings.
type RetrievalConfig struct {
	// EmbedModel produces embeddings for queries and chunks.
	EmbedModel string `toml:"embed_model"`
	// MaxChunks caps how many chunks one query may contribute.
	MaxChunks int `toml:"max_chunks"`
	// MinSimilarity drops weak matches (0.0-1.0).
	MinSimilarity float64 `toml:"min_similarity"`
}

// MemoryConfig contains conversation summarization settings.
type MemoryConfig struct {
	// Enabled turns long-conversation summarization on.
	Enabled bool `toml:"enabled"`
	// Model used for summarization; empty falls back to the chat model.
	Model string `toml:"model"`
}

// TitleConfig contains chat title generation settings.
type TitleConfig struct {
	// Model used for the title follow-up; empty falls back to the
	// chat model.
	Model string `toml:"model"`
}

// UIConfig contains REPL presentation settings.
type UIConfig struct {
	// Markdown renders finished answers through glamour on a TTY.
	Markdown bool `toml:"markdown"`
	// Theme is the rendering theme: "dark", "light", "auto".
	Theme string `toml:"theme"`
	// ShowStats prints latency/throughput after each answer.
	ShowStats bool `toml:"show_stats"`
	// ShowReasoning prints the reasoning segment instead of folding it.
	ShowReasoning bool `toml:"show_reasoning"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`
	// Dir receives dated JSON log files when set (empty = stderr only).
	Dir string `toml:"dir"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version:      "1.0.0",
		DefaultModel: "qwen3:8b",

		Ollama: OllamaConfig{
			URL:                "http://127.0.0.1:11434",
			Think:              false,
			KeepAlive:          "5m",
			RequestTimeoutSecs: 30,
		},

		Context: ContextConfig{
			MaxMessages: 20,
		},

		Persist: PersistConfig{
			MessageWindowMs:     150,
			MessageListWindowMs: 500,
			ChatMetaWindowMs:    500,
		},

		Search: SearchConfig{
			Enabled:     false,
			Endpoint:    "http://127.0.0.1:8888",
			FollowLinks: false,
		},

		Retrieval: RetrievalConfig{
			EmbedModel:    "nomic-embed-text",
			MaxChunks:     4,
			MinSimilarity: 0.3,
		},

		Memory: MemoryConfig{
			Enabled: false,
		},

		UI: UIConfig{
			Markdown:  true,
			Theme:     "dark",
			ShowStats: true,
		},

		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the loomchat configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".loomchat"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads the configuration from ~/.loomchat/config.toml, falling back
// to defaults when the file is absent. Environment overrides are applied
// last, then validation.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return finish(Default())
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return finish(Default())
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return finish(cfg)
}

// finish applies defaults, environment overrides, and validation.
func finish(cfg *Config) (*Config, error) {
	cfg.SetDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default TOML file atomically with
// 0600 permissions.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration to a specific TOML file.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# loomchat configuration file\n")
	buf.WriteString("# Edit with care, or use /set inside the REPL.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// DEFAULTS FILL-IN
// =============================================================================

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.DefaultModel == "" {
		c.DefaultModel = defaults.DefaultModel
	}

	if c.Ollama.URL == "" {
		c.Ollama.URL = defaults.Ollama.URL
	}
	if c.Ollama.KeepAlive == "" {
		c.Ollama.KeepAlive = defaults.Ollama.KeepAlive
	}
	if c.Ollama.RequestTimeoutSecs == 0 {
		c.Ollama.RequestTimeoutSecs = defaults.Ollama.RequestTimeoutSecs
	}

	if c.Context.MaxMessages == 0 {
		c.Context.MaxMessages = defaults.Context.MaxMessages
	}

	if c.Persist.MessageWindowMs == 0 {
		c.Persist.MessageWindowMs = defaults.Persist.MessageWindowMs
	}
	if c.Persist.MessageListWindowMs == 0 {
		c.Persist.MessageListWindowMs = defaults.Persist.MessageListWindowMs
	}
	if c.Persist.ChatMetaWindowMs == 0 {
		c.Persist.ChatMetaWindowMs = defaults.Persist.ChatMetaWindowMs
	}

	if c.Search.Endpoint == "" {
		c.Search.Endpoint = defaults.Search.Endpoint
	}

	if c.Retrieval.EmbedModel == "" {
		c.Retrieval.EmbedModel = defaults.Retrieval.EmbedModel
	}
	if c.Retrieval.MaxChunks == 0 {
		c.Retrieval.MaxChunks = defaults.Retrieval.MaxChunks
	}
	if c.Retrieval.MinSimilarity == 0 {
		c.Retrieval.MinSimilarity = defaults.Retrieval.MinSimilarity
	}

	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Ollama.URL != "" {
		if u, err := url.Parse(c.Ollama.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "ollama.url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Ollama.URL),
			})
		}
	}
	if c.Ollama.RequestTimeoutSecs < 1 || c.Ollama.RequestTimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "ollama.request_timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.Ollama.RequestTimeoutSecs),
		})
	}

	if c.Context.MaxMessages < 2 || c.Context.MaxMessages > 200 {
		errs = append(errs, ValidationError{
			Field:   "context.max_messages",
			Message: fmt.Sprintf("must be 2-200, got %d", c.Context.MaxMessages),
		})
	}

	for field, ms := range map[string]int{
		"persist.message_window_ms":      c.Persist.MessageWindowMs,
		"persist.message_list_window_ms": c.Persist.MessageListWindowMs,
		"persist.chat_meta_window_ms":    c.Persist.ChatMetaWindowMs,
	} {
		if ms < 0 || ms > 60000 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("must be 0-60000, got %d", ms),
			})
		}
	}

	if c.Search.Enabled {
		if u, err := url.Parse(c.Search.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "search.endpoint",
				Message: fmt.Sprintf("invalid URL '%s'", c.Search.Endpoint),
			})
		}
	}

	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		errs = append(errs, ValidationError{
			Field:   "retrieval.min_similarity",
			Message: "must be between 0.0 and 1.0",
		})
	}
	if c.Retrieval.MaxChunks < 1 || c.Retrieval.MaxChunks > 50 {
		errs = append(errs, ValidationError{
			Field:   "retrieval.max_chunks",
			Message: fmt.Sprintf("must be 1-50, got %d", c.Retrieval.MaxChunks),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - LOOMCHAT_MODEL: overrides default_model
//   - LOOMCHAT_OLLAMA_URL: overrides ollama.url
//   - LOOMCHAT_THINK: set to "1" or "true" to request the reasoning channel
//   - LOOMCHAT_DB: overrides persist.db_path
//   - LOOMCHAT_SEARX_URL: overrides search.endpoint
//   - LOOMCHAT_SEARCH: set to "1" or "true" to enable web search
//   - LOOMCHAT_LOG_LEVEL: overrides log.level
//   - LOOMCHAT_LOG_DIR: overrides log.dir
//   - LOOMCHAT_NO_MARKDOWN: set to "1" or "true" to disable markdown rendering
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("LOOMCHAT_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if u := os.Getenv("LOOMCHAT_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}
	if think := os.Getenv("LOOMCHAT_THINK"); think != "" {
		c.Ollama.Think = envBool(think)
	}
	if db := os.Getenv("LOOMCHAT_DB"); db != "" {
		c.Persist.DBPath = db
	}
	if searx := os.Getenv("LOOMCHAT_SEARX_URL"); searx != "" {
		c.Search.Endpoint = searx
	}
	if search := os.Getenv("LOOMCHAT_SEARCH"); search != "" {
		c.Search.Enabled = envBool(search)
	}
	if level := os.Getenv("LOOMCHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if dir := os.Getenv("LOOMCHAT_LOG_DIR"); dir != "" {
		c.Log.Dir = dir
	}
	if noMD := os.Getenv("LOOMCHAT_NO_MARKDOWN"); noMD != "" {
		c.UI.Markdown = !envBool(noMD)
	}
}

func envBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation
// (e.g. "context.max_messages").
func (c *Config) Get(key string) (any, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 || key == "" {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 || key == "" {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an arbitrary value with type
// conversion for string input.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(envBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPERS
// =============================================================================

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	return []string{
		"version",
		"default_model",
		"ollama.url",
		"ollama.think",
		"ollama.keep_alive",
		"ollama.request_timeout_secs",
		"context.max_messages",
		"context.system_prompt",
		"persist.db_path",
		"persist.message_window_ms",
		"persist.message_list_window_ms",
		"persist.chat_meta_window_ms",
		"search.enabled",
		"search.endpoint",
		"search.query_model",
		"search.follow_links",
		"retrieval.embed_model",
		"retrieval.max_chunks",
		"retrieval.min_similarity",
		"memory.enabled",
		"memory.model",
		"title.model",
		"ui.markdown",
		"ui.theme",
		"ui.show_stats",
		"ui.show_reasoning",
		"log.level",
		"log.dir",
	}
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// DatabasePath resolves the SQLite path, defaulting into the config dir.
func (c *Config) DatabasePath() (string, error) {
	if c.Persist.DBPath != "" {
		return c.Persist.DBPath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "loomchat.db"), nil
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance. Loads configuration on
// first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}
