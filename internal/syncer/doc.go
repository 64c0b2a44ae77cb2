// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package syncer runs the background worker that keeps the local cache and
// the remote history store convergent.
//
// Each cycle has two phases. Drain pushes pending queue entries to the
// remote store, in order per record and in parallel across records, behind
// a concurrency semaphore and a request rate limiter. Pull then fetches
// remote changes per table from the last stored cursor and reconciles each
// one against the local copy with last-writer-wins resolution.
//
// Cycles run on an interval and on demand via Trigger. Stop performs one
// best-effort final drain bounded by the configured drain timeout, so a
// short-lived session still pushes what it can before exit.
package syncer
