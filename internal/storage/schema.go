// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"

	"github.com/jeranaias/relay-tui/internal/model"
)

const (
	// SchemaVersion tracks the database schema version for migrations.
	SchemaVersion = 1
)

// Logical history table names, shared with the remote store contract.
const (
	TableGlobal  = "history_global"
	TableUser    = "history_user"
	TableMachine = "history_machine"
	TableLocal   = "history_local"
)

// SyncedTables are the history tables that participate in remote sync.
// history_local is deliberately absent.
var SyncedTables = []string{TableGlobal, TableUser, TableMachine}

// TableForScope maps a storage scope to its history table.
func TableForScope(scope model.Scope) (string, error) {
	switch scope {
	case model.ScopeGlobal:
		return TableGlobal, nil
	case model.ScopeUser:
		return TableUser, nil
	case model.ScopeMachine:
		return TableMachine, nil
	case model.ScopeLocal:
		return TableLocal, nil
	}
	return "", fmt.Errorf("scope %q has no storage table", scope)
}

// ScopeForTable is the inverse of TableForScope.
func ScopeForTable(table string) (model.Scope, error) {
	switch table {
	case TableGlobal:
		return model.ScopeGlobal, nil
	case TableUser:
		return model.ScopeUser, nil
	case TableMachine:
		return model.ScopeMachine, nil
	case TableLocal:
		return model.ScopeLocal, nil
	}
	return "", fmt.Errorf("unknown history table %q", table)
}

// historyColumns is the shared column layout of every history table.
const historyColumns = `
    uuid TEXT PRIMARY KEY,
    command TEXT NOT NULL,
    response TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,  -- unix milliseconds
    updated_at INTEGER NOT NULL,  -- unix milliseconds
    user_id TEXT NOT NULL DEFAULT '',
    machine_id TEXT NOT NULL,
    status TEXT NOT NULL,
    sync_status TEXT NOT NULL`

// Schema is the sqlite schema for the local cache.
// A fresh install starts empty; a restored backup resumes exactly where it
// left off because all sync state (queue, cursors) lives in these tables.
var Schema = `
-- Metadata: schema version, pull cursors, sync status aggregates
CREATE TABLE IF NOT EXISTS sync_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- History tables mirror the remote schema, one per scope
CREATE TABLE IF NOT EXISTS history_global (` + historyColumns + `);
CREATE TABLE IF NOT EXISTS history_user (` + historyColumns + `);
CREATE TABLE IF NOT EXISTS history_machine (` + historyColumns + `);
CREATE TABLE IF NOT EXISTS history_local (` + historyColumns + `);

CREATE INDEX IF NOT EXISTS idx_global_created ON history_global(created_at);
CREATE INDEX IF NOT EXISTS idx_user_created ON history_user(created_at);
CREATE INDEX IF NOT EXISTS idx_machine_created ON history_machine(created_at);
CREATE INDEX IF NOT EXISTS idx_local_created ON history_local(created_at);

-- Pending mutations awaiting remote acknowledgment.
-- sequence_id is monotonic per machine (AUTOINCREMENT never reuses rowids).
CREATE TABLE IF NOT EXISTS sync_queue (
    sequence_id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation TEXT NOT NULL,
    target_table TEXT NOT NULL,
    record_uuid TEXT NOT NULL,
    payload BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    next_attempt_at INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_queue_record ON sync_queue(record_uuid, sequence_id);
CREATE INDEX IF NOT EXISTS idx_queue_state ON sync_queue(state, next_attempt_at);

-- Read-mostly reference caches. The cache never originates a users row;
-- only the remote store does.
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS machines (
    id TEXT PRIMARY KEY,
    hostname TEXT NOT NULL,
    first_seen INTEGER NOT NULL,
    last_seen INTEGER NOT NULL
);
`
