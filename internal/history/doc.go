// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history is the application-facing surface for command history:
// submit a command, attach its response, cancel it, and query across scopes.
// It composes the local cache, the scope router, and the sync worker; callers
// never touch those directly.
package history
