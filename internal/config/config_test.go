// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable ApplyEnvOverrides reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENROUTER_API_KEY", "OPENAI_API_KEY", "CHATRELAY_PROVIDER", "CHATRELAY_MODEL",
		"CHATRELAY_ENDPOINT_URL", "CHATRELAY_PORT", "CHATRELAY_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("Expected default port 8787, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxSteps != 5 {
		t.Errorf("Expected default max steps 5, got %d", cfg.Server.MaxSteps)
	}
	if cfg.Provider.Kind != ProviderOpenRouter {
		t.Errorf("Expected default provider 'openrouter', got '%s'", cfg.Provider.Kind)
	}
	if cfg.Client.EndpointURL == "" {
		t.Error("Default config should have an endpoint URL")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid default config", func(c *Config) {}, ""},
		{"empty endpoint allowed", func(c *Config) { c.Client.EndpointURL = "" }, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"max steps zero", func(c *Config) { c.Server.MaxSteps = 0 }, "server.max_steps"},
		{"tool timeout zero", func(c *Config) { c.Server.ToolTimeoutSecs = 0 }, "server.tool_timeout_secs"},
		{"unknown provider", func(c *Config) { c.Provider.Kind = "ollama" }, "provider.kind"},
		{"bad base url", func(c *Config) { c.Provider.BaseURL = "ftp://x" }, "provider.base_url"},
		{"endpoint without host", func(c *Config) { c.Client.EndpointURL = "http://" }, "client.endpoint_url"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "expected ValidateErrors, got %v", err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.wantField, verrs[0].Field)
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	c := Default()
	c.Server.Port = -1
	c.Log.Level = "nope"

	err := c.Validate()
	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "log.level")
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("CHATRELAY_MODEL", "openai/gpt-4o-mini")
	t.Setenv("CHATRELAY_ENDPOINT_URL", "http://relay.local:9000")
	t.Setenv("CHATRELAY_PORT", "9000")
	t.Setenv("CHATRELAY_LOG_LEVEL", "debug")

	c := Default()
	c.ApplyEnvOverrides()

	assert.Equal(t, "sk-or-test", c.Provider.APIKey)
	assert.Equal(t, "openai/gpt-4o-mini", c.Provider.Model)
	assert.Equal(t, "http://relay.local:9000", c.Client.EndpointURL)
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestConfig_EnvOverrides_KeyFollowsProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATRELAY_PROVIDER", "OpenAI")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	c := Default()
	c.ApplyEnvOverrides()

	assert.Equal(t, ProviderOpenAI, c.Provider.Kind)
	assert.Equal(t, "sk-openai", c.Provider.APIKey)
}

func TestConfig_EnvOverrides_BadPortIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATRELAY_PORT", "eighty")

	c := Default()
	c.ApplyEnvOverrides()
	assert.Equal(t, 8787, c.Server.Port)
}

func TestLoad_ExplicitPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "relay.toml")
	content := `
[server]
port = 9191
instructions_file = "/tmp/prompt.md"

[provider]
kind = "openai"
model = "gpt-4o-mini"

[client]
markdown = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.MaxSteps, "keys absent from the file keep defaults")
	assert.Equal(t, "/tmp/prompt.md", cfg.Server.InstructionsFile)
	assert.Equal(t, ProviderOpenAI, cfg.Provider.Kind)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.False(t, cfg.Client.Markdown)

	// Loading tightens permissions on a file that may hold a key.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoad_MissingDefaultPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 0\nmax_steps = 99\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.max_steps")
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Provider.APIKey = "sk-secret"
	cfg.Server.Port = 9999
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
	assert.Equal(t, "sk-secret", loaded.Provider.APIKey)
}

func TestConfig_StringRedactsKey(t *testing.T) {
	c := Default()
	c.Provider.APIKey = "sk-secret"

	s := c.String()
	assert.NotContains(t, s, "sk-secret")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "sk-secret", c.Provider.APIKey, "String must not modify the receiver")
}

func TestConfig_SetDefaults(t *testing.T) {
	c := &Config{Provider: ProviderConfig{Kind: "OPENROUTER"}}
	c.SetDefaults()

	assert.Equal(t, ProviderOpenRouter, c.Provider.Kind)
	assert.Equal(t, Default().Provider.Model, c.Provider.Model)
	assert.Equal(t, 8787, c.Server.Port)
	assert.Equal(t, "info", c.Log.Level)
	assert.NoError(t, c.Validate())
}

// =============================================================================
// INSTRUCTIONS WATCHER
// =============================================================================

func TestInstructionsWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instructions.md")
	require.NoError(t, os.WriteFile(path, []byte("  Be brief.\n"), 0o644))

	w, err := NewInstructionsWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, "Be brief.", w.Instructions())

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("noise"), 0o644))

	require.NoError(t, os.WriteFile(path, []byte("Answer like a pirate."), 0o644))
	assert.Eventually(t, func() bool {
		return w.Instructions() == "Answer like a pirate."
	}, 3*time.Second, 20*time.Millisecond)
}

func TestInstructionsWatcher_KeepsLastGoodOnRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instructions.md")
	require.NoError(t, os.WriteFile(path, []byte("Stay on topic."), 0o644))

	w, err := NewInstructionsWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.Remove(path))
	time.Sleep(3 * DefaultDebounce)
	assert.Equal(t, "Stay on topic.", w.Instructions())
}

func TestInstructionsWatcher_MissingFile(t *testing.T) {
	_, err := NewInstructionsWatcher(filepath.Join(t.TempDir(), "nope.md"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to read instructions"))
}
