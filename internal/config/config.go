// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/relay-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete relay configuration.
type Config struct {
	// Version of the configuration schema
	Version string `toml:"version" json:"version"`

	// Storage configuration (local cache location)
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Sync configuration (remote store, timeouts, retry policy)
	Sync SyncConfig `toml:"sync" json:"sync"`

	// Audit configuration (conflict/dead-letter trail)
	Audit AuditConfig `toml:"audit" json:"audit"`
}

// StorageConfig contains local cache configuration.
type StorageConfig struct {
	// DataDir is the relay data directory (default: ~/.relay)
	DataDir string `toml:"data_dir" json:"data_dir"`

	// DatabasePath is the sqlite database file (default: <data_dir>/relay.db)
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// SyncConfig contains remote store and sync worker configuration.
//
// RemoteURL and RemoteToken being empty means "offline-only" and is valid.
type SyncConfig struct {
	// RemoteURL is the base URL of the remote history store
	RemoteURL string `toml:"remote_url" json:"remote_url"`

	// RemoteToken is the bearer token for the remote store
	RemoteToken string `toml:"remote_token" json:"remote_token"`

	// Username is the identity to validate at startup. Empty means connect
	// anonymously: global and machine scopes sync, user scope stays off.
	Username string `toml:"username" json:"username"`

	// ConnectTimeoutMS bounds session authentication at startup
	ConnectTimeoutMS int `toml:"connect_timeout_ms" json:"connect_timeout_ms"`

	// SyncIntervalMS is the background sync cycle interval
	SyncIntervalMS int `toml:"sync_interval_ms" json:"sync_interval_ms"`

	// MaxRetries caps retries per queue entry per sync cycle; past the cap
	// the entry is dead-lettered
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// DispatchConcurrency caps parallel dispatch across distinct records
	DispatchConcurrency int `toml:"dispatch_concurrency" json:"dispatch_concurrency"`

	// DispatchRatePerSec limits remote requests per second from the worker
	DispatchRatePerSec int `toml:"dispatch_rate_per_sec" json:"dispatch_rate_per_sec"`

	// DrainTimeoutMS bounds the best-effort final drain at shutdown
	DrainTimeoutMS int `toml:"drain_timeout_ms" json:"drain_timeout_ms"`
}

// AuditConfig contains audit trail configuration.
type AuditConfig struct {
	// Enabled controls whether conflict losers and dead letters are logged
	Enabled bool `toml:"enabled" json:"enabled"`

	// LogPath is the audit log file (empty = <data_dir>/audit.log)
	LogPath string `toml:"log_path" json:"log_path"`
}

// =============================================================================
// DERIVED ACCESSORS
// =============================================================================

// Enabled reports whether a remote store is configured at all.
func (s SyncConfig) Enabled() bool {
	return s.RemoteURL != "" && s.RemoteToken != ""
}

// ConnectTimeout returns the authentication timeout as a duration.
func (s SyncConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutMS) * time.Millisecond
}

// SyncInterval returns the worker cycle interval as a duration.
func (s SyncConfig) SyncInterval() time.Duration {
	return time.Duration(s.SyncIntervalMS) * time.Millisecond
}

// DrainTimeout returns the shutdown drain budget as a duration.
func (s SyncConfig) DrainTimeout() time.Duration {
	return time.Duration(s.DrainTimeoutMS) * time.Millisecond
}

// AuditLogPath resolves the audit log location.
func (c *Config) AuditLogPath() string {
	if c.Audit.LogPath != "" {
		return c.Audit.LogPath
	}
	return filepath.Join(c.Storage.DataDir, "audit.log")
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Storage: StorageConfig{},
		Sync: SyncConfig{
			ConnectTimeoutMS:    5000,
			SyncIntervalMS:      30000,
			MaxRetries:          5,
			DispatchConcurrency: 4,
			DispatchRatePerSec:  20,
			DrainTimeoutMS:      3000,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// =============================================================================
// FILE LOCATIONS
// =============================================================================

// ConfigDir returns the relay configuration directory (~/.relay).
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".relay"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finish(cfg)
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finish(cfg)
		}
	}

	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

// finish applies overrides, defaults, and validation in load order.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML location.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file atomically.
// The file carries 0600 permissions since it may contain the remote token.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RELAY_DATA_DIR: overrides storage.data_dir
//   - RELAY_REMOTE_URL: overrides sync.remote_url
//   - RELAY_REMOTE_TOKEN: overrides sync.remote_token
//   - RELAY_USERNAME: overrides sync.username
//   - RELAY_SYNC_INTERVAL_MS: overrides sync.sync_interval_ms
//   - RELAY_OFFLINE: set to "1" or "true" to force offline-only operation
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv("RELAY_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
		c.Storage.DatabasePath = ""
	}

	if u := os.Getenv("RELAY_REMOTE_URL"); u != "" {
		c.Sync.RemoteURL = u
	}

	if token := os.Getenv("RELAY_REMOTE_TOKEN"); token != "" {
		c.Sync.RemoteToken = token
	}

	if user := os.Getenv("RELAY_USERNAME"); user != "" {
		c.Sync.Username = user
	}

	if interval := os.Getenv("RELAY_SYNC_INTERVAL_MS"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil && ms > 0 {
			c.Sync.SyncIntervalMS = ms
		}
	}

	if offline := os.Getenv("RELAY_OFFLINE"); offline == "1" || strings.EqualFold(offline, "true") {
		c.Sync.RemoteURL = ""
		c.Sync.RemoteToken = ""
	}
}

// =============================================================================
// DEFAULTS & VALIDATION
// =============================================================================

// SetDefaults fills any unset fields with default values.
func (c *Config) SetDefaults() error {
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.Storage.DataDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		c.Storage.DataDir = dir
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Storage.DataDir, "relay.db")
	}

	def := Default().Sync
	if c.Sync.ConnectTimeoutMS <= 0 {
		c.Sync.ConnectTimeoutMS = def.ConnectTimeoutMS
	}
	if c.Sync.SyncIntervalMS <= 0 {
		c.Sync.SyncIntervalMS = def.SyncIntervalMS
	}
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = def.MaxRetries
	}
	if c.Sync.DispatchConcurrency <= 0 {
		c.Sync.DispatchConcurrency = def.DispatchConcurrency
	}
	if c.Sync.DispatchRatePerSec <= 0 {
		c.Sync.DispatchRatePerSec = def.DispatchRatePerSec
	}
	if c.Sync.DrainTimeoutMS <= 0 {
		c.Sync.DrainTimeoutMS = def.DrainTimeoutMS
	}
	return nil
}

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates all validation failures.
type ValidateErrors []ValidationError

// Error implements the error interface.
func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "config validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration for consistency.
//
// An empty remote URL/token pair is valid (offline-only). A remote URL
// without a token, or a token without a URL, is rejected so a half-configured
// sync setup fails loudly instead of silently staying offline.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Sync.RemoteURL != "" {
		parsed, err := url.Parse(c.Sync.RemoteURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "sync.remote_url",
				Message: fmt.Sprintf("must be a valid http(s) URL, got %q", c.Sync.RemoteURL),
			})
		}
		if c.Sync.RemoteToken == "" {
			errs = append(errs, ValidationError{
				Field:   "sync.remote_token",
				Message: "required when sync.remote_url is set",
			})
		}
	} else if c.Sync.RemoteToken != "" {
		errs = append(errs, ValidationError{
			Field:   "sync.remote_url",
			Message: "required when sync.remote_token is set",
		})
	}

	if c.Sync.MaxRetries > 100 {
		errs = append(errs, ValidationError{
			Field:   "sync.max_retries",
			Message: fmt.Sprintf("must be <= 100, got %d", c.Sync.MaxRetries),
		})
	}
	if c.Sync.DispatchConcurrency > 64 {
		errs = append(errs, ValidationError{
			Field:   "sync.dispatch_concurrency",
			Message: fmt.Sprintf("must be <= 64, got %d", c.Sync.DispatchConcurrency),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
