// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatrelay configuration.
type Config struct {
	// Server settings for `chatrelay serve`
	Server ServerConfig `toml:"server" json:"server"`

	// Provider selects and configures the model backend
	Provider ProviderConfig `toml:"provider" json:"provider"`

	// Client settings for `chatrelay chat`
	Client ClientConfig `toml:"client" json:"client"`

	// Log configuration
	Log LogConfig `toml:"log" json:"log"`
}

// ServerConfig contains completion endpoint configuration.
type ServerConfig struct {
	// Host is the listen address
	Host string `toml:"host" json:"host"`
	// Port is the listen port
	Port int `toml:"port" json:"port"`
	// MaxSteps bounds the model steps in one completion
	MaxSteps int `toml:"max_steps" json:"max_steps"`
	// ToolTimeoutSecs bounds one server-side tool execution
	ToolTimeoutSecs int `toml:"tool_timeout_secs" json:"tool_timeout_secs"`
	// InstructionsFile optionally replaces the built-in system prompt. The
	// file is watched and reloaded on change.
	InstructionsFile string `toml:"instructions_file" json:"instructions_file"`
}

// ProviderConfig contains model provider configuration.
type ProviderConfig struct {
	// Kind is "openrouter" or "openai"
	Kind string `toml:"kind" json:"kind"`
	// APIKey is the provider API key
	APIKey string `toml:"api_key" json:"api_key"`
	// BaseURL overrides the provider's API root (empty = provider default)
	BaseURL string `toml:"base_url" json:"base_url"`
	// Model is the model identifier sent with every request
	Model string `toml:"model" json:"model"`
	// SiteURL and SiteName are sent to OpenRouter for attribution
	SiteURL  string `toml:"site_url" json:"site_url"`
	SiteName string `toml:"site_name" json:"site_name"`
}

// ClientConfig contains terminal client configuration.
type ClientConfig struct {
	// EndpointURL is the base URL of the completion endpoint
	EndpointURL string `toml:"endpoint_url" json:"endpoint_url"`
	// Markdown renders assistant text as markdown
	Markdown bool `toml:"markdown" json:"markdown"`
	// ShowReasoning expands reasoning instead of showing a summary line
	ShowReasoning bool `toml:"show_reasoning" json:"show_reasoning"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level" json:"level"`
}

// Provider kinds.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			MaxSteps:        5,
			ToolTimeoutSecs: 30,
		},
		Provider: ProviderConfig{
			Kind:     ProviderOpenRouter,
			Model:    "google/gemini-2.0-flash-001",
			SiteName: "chatrelay",
		},
		Client: ClientConfig{
			EndpointURL: "http://127.0.0.1:8787",
			Markdown:    true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatrelay configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatrelay"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file that may hold an API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads a .env file from the working directory into the process
// environment. Variables that are already set win. A missing file is fine.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
}

// Load loads the configuration. An empty path means ~/.chatrelay/config.toml,
// which may be absent; an explicit path must exist. The .env file is read
// first and environment overrides are applied last.
func Load(path string) (*Config, error) {
	LoadDotEnv()

	cfg := Default()
	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys not in the file keep their
// current values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg as TOML to path, creating the directory. The file is
// created with 0600 permissions since it may hold an API key.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# chatrelay configuration file")
	fmt.Fprintln(file, "# Environment variables override these values.")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
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

// Validate validates the configuration and returns ValidateErrors listing
// every problem, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range 1-65535", c.Server.Port),
		})
	}
	if c.Server.MaxSteps < 1 || c.Server.MaxSteps > 20 {
		errs = append(errs, ValidationError{
			Field:   "server.max_steps",
			Message: fmt.Sprintf("max_steps %d out of range 1-20", c.Server.MaxSteps),
		})
	}
	if c.Server.ToolTimeoutSecs < 1 || c.Server.ToolTimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "server.tool_timeout_secs",
			Message: fmt.Sprintf("tool_timeout_secs %d out of range 1-600", c.Server.ToolTimeoutSecs),
		})
	}

	switch strings.ToLower(c.Provider.Kind) {
	case ProviderOpenRouter, ProviderOpenAI:
	default:
		errs = append(errs, ValidationError{
			Field:   "provider.kind",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openrouter, openai", c.Provider.Kind),
		})
	}
	if c.Provider.BaseURL != "" {
		if msg := checkHTTPURL(c.Provider.BaseURL); msg != "" {
			errs = append(errs, ValidationError{Field: "provider.base_url", Message: msg})
		}
	}

	// An empty endpoint is allowed here; the client reports it when used.
	if c.Client.EndpointURL != "" {
		if msg := checkHTTPURL(c.Client.EndpointURL); msg != "" {
			errs = append(errs, ValidationError{Field: "client.endpoint_url", Message: msg})
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
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

func checkHTTPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("URL scheme must be http or https, got '%s'", u.Scheme)
	}
	if u.Host == "" {
		return "URL must include a host"
	}
	return ""
}

// SetDefaults fills zero-value fields from Default.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.MaxSteps == 0 {
		c.Server.MaxSteps = defaults.Server.MaxSteps
	}
	if c.Server.ToolTimeoutSecs == 0 {
		c.Server.ToolTimeoutSecs = defaults.Server.ToolTimeoutSecs
	}

	if c.Provider.Kind == "" {
		c.Provider.Kind = defaults.Provider.Kind
	}
	c.Provider.Kind = strings.ToLower(c.Provider.Kind)
	if c.Provider.Model == "" && c.Provider.Kind == ProviderOpenRouter {
		c.Provider.Model = defaults.Provider.Model
	}
	if c.Provider.SiteName == "" {
		c.Provider.SiteName = defaults.Provider.SiteName
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - OPENROUTER_API_KEY: overrides provider.api_key for openrouter
//   - OPENAI_API_KEY: overrides provider.api_key for openai
//   - CHATRELAY_PROVIDER: overrides provider.kind
//   - CHATRELAY_MODEL: overrides provider.model
//   - CHATRELAY_ENDPOINT_URL: overrides client.endpoint_url
//   - CHATRELAY_PORT: overrides server.port
//   - CHATRELAY_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if kind := os.Getenv("CHATRELAY_PROVIDER"); kind != "" {
		c.Provider.Kind = strings.ToLower(kind)
	}

	// The key variable follows the selected provider.
	keyVar := "OPENROUTER_API_KEY"
	if strings.EqualFold(c.Provider.Kind, ProviderOpenAI) {
		keyVar = "OPENAI_API_KEY"
	}
	if key := os.Getenv(keyVar); key != "" {
		c.Provider.APIKey = key
	}

	if model := os.Getenv("CHATRELAY_MODEL"); model != "" {
		c.Provider.Model = model
	}

	if endpoint := os.Getenv("CHATRELAY_ENDPOINT_URL"); endpoint != "" {
		c.Client.EndpointURL = endpoint
	}

	if port := os.Getenv("CHATRELAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring CHATRELAY_PORT=%q: not a number\n", port)
		}
	}

	if level := os.Getenv("CHATRELAY_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as JSON with the API key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Provider.APIKey != "" {
		safe.Provider.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
