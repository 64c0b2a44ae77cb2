// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scope maps a requested history scope to the concrete tables a read
// or write must touch, gated by the session's authentication result.
//
// Requesting a scope the session cannot honor (user or hybrid without a
// validated identity) fails fast with a capability error and performs no
// side effects — the core never silently degrades a user-scope request to
// local history.
package scope
