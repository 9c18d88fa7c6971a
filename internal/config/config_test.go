// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Ollama.URL)
	assert.Equal(t, 20, cfg.Context.MaxMessages)
	assert.Equal(t, 150, cfg.Persist.MessageWindowMs)
}

func TestLoadFromPathFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_model = "llama3.2:3b"

[context]
max_messages = 40
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3.2:3b", cfg.DefaultModel)
	assert.Equal(t, 40, cfg.Context.MaxMessages)
	// Unspecified sections fall back to defaults.
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Ollama.URL)
	assert.Equal(t, 500, cfg.Persist.ChatMetaWindowMs)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromPathRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[context]
max_messages = 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context.max_messages")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Context.MaxMessages = 1000
	cfg.UI.Theme = "neon"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)

	var errs ValidateErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3)
}

func TestValidateSearchEndpointOnlyWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Search.Endpoint = "not a url"
	assert.NoError(t, cfg.Validate())

	cfg.Search.Enabled = true
	assert.Error(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOOMCHAT_MODEL", "mistral:7b")
	t.Setenv("LOOMCHAT_OLLAMA_URL", "http://gpu-box:11434")
	t.Setenv("LOOMCHAT_SEARCH", "true")
	t.Setenv("LOOMCHAT_NO_MARKDOWN", "1")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "mistral:7b", cfg.DefaultModel)
	assert.Equal(t, "http://gpu-box:11434", cfg.Ollama.URL)
	assert.True(t, cfg.Search.Enabled)
	assert.False(t, cfg.UI.Markdown)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultModel = "qwen3:14b"
	cfg.Search.Enabled = true
	cfg.Search.Endpoint = "http://localhost:8888"
	require.NoError(t, SaveTo(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen3:14b", loaded.DefaultModel)
	assert.True(t, loaded.Search.Enabled)
}

func TestGetSetDotNotation(t *testing.T) {
	cfg := Default()

	got, err := cfg.Get("context.max_messages")
	require.NoError(t, err)
	assert.Equal(t, 20, got)

	require.NoError(t, cfg.Set("context.max_messages", "30"))
	assert.Equal(t, 30, cfg.Context.MaxMessages)

	require.NoError(t, cfg.Set("ui.markdown", "false"))
	assert.False(t, cfg.UI.Markdown)

	require.NoError(t, cfg.Set("retrieval.min_similarity", "0.5"))
	assert.Equal(t, 0.5, cfg.Retrieval.MinSimilarity)

	_, err = cfg.Get("context.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("nope.nope", "1"))
}

func TestDotNotationCoversAllKeys(t *testing.T) {
	cfg := Default()
	for _, key := range Keys() {
		_, err := cfg.Get(key)
		assert.NoError(t, err, "key %s", key)
	}
}

func TestGlobalConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTo(Default(), path))

	reloaded := make(chan *Config, 1)
	w, err := Watch(path, slog.Default(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	next := Default()
	next.Context.MaxMessages = 50
	require.NoError(t, SaveTo(next, path))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 50, cfg.Context.MaxMessages)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatchRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveTo(Default(), path))

	good, err := LoadFromPath(path)
	require.NoError(t, err)
	SetGlobal(good)

	reloads := make(chan struct{}, 1)
	w, err := Watch(path, slog.Default(), func(*Config) {
		select {
		case reloads <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("max_messages = [broken"), 0600))

	select {
	case <-reloads:
		t.Fatal("broken file must not trigger a reload")
	case <-time.After(time.Second):
	}

	// The last good configuration stays in effect.
	assert.Equal(t, good.Context.MaxMessages, Global().Context.MaxMessages)
}
