// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for history records, their
// visibility scopes, and the sync bookkeeping that travels with them.
//
// Every record is keyed by a client-generated UUID that is immutable for the
// record's lifetime and is the sole deduplication key across machines. Scope,
// record status, and sync status are typed values rather than raw strings so
// that an invalid combination never reaches storage or the wire.
package model
