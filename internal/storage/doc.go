// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local sqlite cache and sync queue for relay.
//
// The cache mirrors the remote store schema (one history table per scope,
// plus user/machine reference caches) and is the single source of truth for
// reads while offline. Every durable write to a syncable scope also appends a
// sync queue entry in the same transaction, unless the write originated from
// a remote pull; pulled data lands already marked synced so it is never
// re-queued, which prevents feedback loops.
//
// Retry and backoff state for queue entries is persisted in the queue rows
// themselves, so a process restart resumes backoff exactly where it left off.
package storage
