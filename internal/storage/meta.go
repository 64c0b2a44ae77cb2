// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// =============================================================================
// SYNC METADATA
// =============================================================================

// Metadata keys. Cursor keys are per table; the rest are aggregates surfaced
// through the sync status report.
const (
	metaKeyLastSync  = "last_sync_at"
	metaKeyLastError = "last_error"
	cursorKeyPrefix  = "cursor/"
)

// GetMeta returns a metadata value, or "" when unset.
func (c *Cache) GetMeta(key string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("meta", err)
	}
	return value, nil
}

// SetMeta stores a metadata value.
func (c *Cache) SetMeta(key, value string) error {
	_, err := c.db.Exec(`
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return storageErr("meta", err)
	}
	return nil
}

// =============================================================================
// PULL CURSORS
// =============================================================================

// Cursor returns the last successful pull cursor for a table ("" = from the
// beginning).
func (c *Cache) Cursor(table string) (string, error) {
	return c.GetMeta(cursorKeyPrefix + table)
}

// SetCursor advances the pull cursor for a table. The sync worker calls this
// only after a fully successful pull.
func (c *Cache) SetCursor(table, cursor string) error {
	return c.SetMeta(cursorKeyPrefix+table, cursor)
}

// =============================================================================
// AGGREGATE SYNC STATE
// =============================================================================

// SetLastSync records the completion time of the last successful cycle.
func (c *Cache) SetLastSync(t time.Time) error {
	return c.SetMeta(metaKeyLastSync, strconv.FormatInt(timeToMs(t), 10))
}

// LastSync returns the completion time of the last successful cycle
// (zero time if never).
func (c *Cache) LastSync() (time.Time, error) {
	v, err := c.GetMeta(metaKeyLastSync)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, storageErr("meta", err)
	}
	return msToTime(ms), nil
}

// SetLastError records the most recent sync error for status reporting.
func (c *Cache) SetLastError(msg string) error {
	return c.SetMeta(metaKeyLastError, msg)
}

// LastError returns the most recent sync error ("" = none).
func (c *Cache) LastError() (string, error) {
	return c.GetMeta(metaKeyLastError)
}

// ClearLastError resets the error aggregate after a clean cycle.
func (c *Cache) ClearLastError() error {
	return c.SetMeta(metaKeyLastError, "")
}
