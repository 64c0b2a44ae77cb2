// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package remote implements the client for the remote history store, the
// cloud-hosted authoritative backend for synced history.
//
// The client consumes a small JSON/HTTP contract: user lookup restricted to
// active accounts, machine registration, idempotent history upsert keyed by
// uuid, and cursor-based change pulls per table. Errors are classified into
// transient (retried with backoff by the sync worker) and permanent (dead-
// lettered immediately) so the worker never retries something that cannot
// succeed.
package remote
