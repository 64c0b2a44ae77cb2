// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// relay.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.relay/config.toml
//   - ~/.relay/config.json
//   - Built-in defaults
//
// A configuration without a remote URL or token is a valid "offline-only"
// configuration, not an error: relay then serves history from the local cache
// and never attempts to sync.
package config
