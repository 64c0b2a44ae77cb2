// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
)

// =============================================================================
// READ TARGETS & FILTERS
// =============================================================================

// Target names one history table to read, with the row constraints the scope
// router derived for it (e.g. the user table restricted to the session's
// user id).
type Target struct {
	Table     string
	UserID    string // restrict to this user id when non-empty
	MachineID string // restrict to this machine id when non-empty
}

// Filter narrows a history query.
type Filter struct {
	// Contains matches records whose command contains this substring
	// (case-insensitive).
	Contains string

	// Since excludes records created before this time.
	Since time.Time

	// Limit caps the number of returned records (0 = unlimited).
	Limit int
}

// =============================================================================
// WRITE PATHS
// =============================================================================

// Put upserts a record by uuid through the local-origin path: the write is
// durable before return, and for syncable scopes a queue entry is appended in
// the same transaction. Local-scope records are never queued.
func (c *Cache) Put(rec *model.HistoryRecord) error {
	return c.put(rec, true)
}

// ApplyRemote upserts a record that arrived from a remote pull. The row lands
// marked synced and no queue entry is appended, so pulled data can never
// re-enter the queue.
func (c *Cache) ApplyRemote(rec *model.HistoryRecord) error {
	clone := rec.Clone()
	clone.SyncStatus = model.SyncSynced
	return c.put(clone, false)
}

func (c *Cache) put(rec *model.HistoryRecord, enqueue bool) error {
	if rec.UUID == "" {
		return storageErr("put", errors.New("record uuid is empty"))
	}
	if !rec.Scope.IsStorage() {
		return storageErr("put", fmt.Errorf("scope %q is not a storage scope", rec.Scope))
	}
	table, err := TableForScope(rec.Scope)
	if err != nil {
		return storageErr("put", err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return storageErr("put", err)
	}
	defer tx.Rollback()

	// Operation kind depends on whether the row already exists.
	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE uuid = ?`, rec.UUID).Scan(&exists)
	if err != nil {
		return storageErr("put", err)
	}

	_, err = tx.Exec(`
		INSERT INTO `+table+` (uuid, command, response, created_at, updated_at,
		                       user_id, machine_id, status, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
		    command = excluded.command,
		    response = excluded.response,
		    updated_at = excluded.updated_at,
		    user_id = excluded.user_id,
		    machine_id = excluded.machine_id,
		    status = excluded.status,
		    sync_status = excluded.sync_status`,
		rec.UUID, rec.Command, rec.Response,
		timeToMs(rec.CreatedAt), timeToMs(rec.UpdatedAt),
		rec.UserID, rec.MachineID,
		string(rec.Status), string(rec.SyncStatus))
	if err != nil {
		return storageErr("put", err)
	}

	if enqueue && rec.Scope.Syncs() {
		op := model.OpUpdate
		if exists == 0 {
			op = model.OpInsert
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return storageErr("put", err)
		}
		if err := enqueueTx(tx, op, table, rec.UUID, payload); err != nil {
			return storageErr("put", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("put", err)
	}
	return nil
}

// MarkSyncStatus updates a record's sync status, recording the error message
// for conflict/failed transitions.
func (c *Cache) MarkSyncStatus(uuid string, status model.SyncStatus, syncErr string) error {
	for _, table := range []string{TableGlobal, TableUser, TableMachine, TableLocal} {
		res, err := c.db.Exec(`UPDATE `+table+` SET sync_status = ? WHERE uuid = ?`,
			string(status), uuid)
		if err != nil {
			return storageErr("mark", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if syncErr != "" {
				return c.SetLastError(syncErr)
			}
			return nil
		}
	}
	return fmt.Errorf("mark sync status %s: %w", uuid, ErrRecordNotFound)
}

// =============================================================================
// READ PATHS
// =============================================================================

// historySelect builds the column list for history scans. Scope is implied
// by the table a row lives in, so it is injected as a literal column.
func historySelect(table string) string {
	scope, _ := ScopeForTable(table)
	return `uuid, command, response, created_at, updated_at,
       user_id, machine_id, status, sync_status, '` + string(scope) + `' AS scope`
}

// Get returns a record by uuid, searching every history table.
func (c *Cache) Get(uuid string) (*model.HistoryRecord, error) {
	for _, table := range []string{TableGlobal, TableUser, TableMachine, TableLocal} {
		rec, err := c.getFromTable(table, uuid)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("get %s: %w", uuid, ErrRecordNotFound)
}

// GetFromTable returns a record by uuid from one specific table.
func (c *Cache) GetFromTable(table, uuid string) (*model.HistoryRecord, error) {
	return c.getFromTable(table, uuid)
}

func (c *Cache) getFromTable(table, uuid string) (*model.HistoryRecord, error) {
	row := c.db.QueryRow(`SELECT `+historySelect(table)+` FROM `+table+` WHERE uuid = ?`, uuid)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return rec, nil
}

// GetByScope returns the records visible under the given targets, ordered by
// created_at ascending across all targets.
func (c *Cache) GetByScope(targets []Target, filter Filter) ([]*model.HistoryRecord, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	var (
		selects []string
		args    []any
	)
	for _, t := range targets {
		q := `SELECT ` + historySelect(t.Table) + ` FROM ` + t.Table + ` WHERE 1=1`
		if t.UserID != "" {
			q += ` AND user_id = ?`
			args = append(args, t.UserID)
		}
		if t.MachineID != "" {
			q += ` AND machine_id = ?`
			args = append(args, t.MachineID)
		}
		if filter.Contains != "" {
			q += ` AND command LIKE ? ESCAPE '\'`
			args = append(args, "%"+escapeLike(filter.Contains)+"%")
		}
		if !filter.Since.IsZero() {
			q += ` AND created_at >= ?`
			args = append(args, timeToMs(filter.Since))
		}
		selects = append(selects, q)
	}

	query := strings.Join(selects, " UNION ALL ") + " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	var records []*model.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("query", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query", err)
	}
	return records, nil
}

// =============================================================================
// ROW SCANNING
// =============================================================================

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*model.HistoryRecord, error) {
	var (
		rec                  model.HistoryRecord
		createdMs, updatedMs int64
		scope                string
		status               string
		syncStatus           string
	)
	if err := s.Scan(&rec.UUID, &rec.Command, &rec.Response,
		&createdMs, &updatedMs,
		&rec.UserID, &rec.MachineID,
		&status, &syncStatus, &scope); err != nil {
		return nil, err
	}
	rec.CreatedAt = msToTime(createdMs)
	rec.UpdatedAt = msToTime(updatedMs)

	sc, err := model.ParseScope(scope)
	if err != nil {
		return nil, err
	}
	rec.Scope = sc

	st, err := model.ParseRecordStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = st

	ss, err := model.ParseSyncStatus(syncStatus)
	if err != nil {
		return nil, err
	}
	rec.SyncStatus = ss
	return &rec, nil
}

// escapeLike escapes LIKE wildcards in user-provided search text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
