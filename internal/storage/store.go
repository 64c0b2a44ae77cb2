// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRecordNotFound is returned when no history record has the uuid.
	ErrRecordNotFound = errors.New("history record not found")

	// ErrEntryNotFound is returned when no queue entry has the sequence id.
	ErrEntryNotFound = errors.New("sync queue entry not found")
)

// StorageError wraps a failure of the local cache. The cache is the only
// durable copy while offline, so callers treat these as fatal to the
// operation that hit them.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("local storage %s: %v", e.Op, e.Err)
}

// Unwrap supports errors.Is/As chains.
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// CACHE
// =============================================================================

// Cache is the embedded durable store mirroring the remote schema.
//
// All mutations for the same record uuid are serialized through a per-record
// lock so a foreground write and a concurrent remote-pull write cannot lose
// updates. Mutations for different records may proceed in parallel.
type Cache struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("open", fmt.Errorf("failed to create database directory: %w", err))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY churn between the foreground and the worker.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, storageErr("open", fmt.Errorf("failed to set pragma: %w", err))
		}
	}

	c := &Cache{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}

	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, storageErr("open", fmt.Errorf("failed to initialize schema: %w", err))
	}

	return c, nil
}

// initSchema creates the database schema and stamps the version.
func (c *Cache) initSchema() error {
	if _, err := c.db.Exec(Schema); err != nil {
		return err
	}
	_, err := c.db.Exec(
		`INSERT INTO sync_meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO NOTHING`,
		fmt.Sprintf("%d", SchemaVersion))
	return err
}

// Close closes the cache and releases resources.
func (c *Cache) Close() error {
	return c.db.Close()
}

// LockRecord acquires the per-record lock for uuid and returns the unlock
// function. Callers hold it across a read-modify-write of a single record.
func (c *Cache) LockRecord(uuid string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[uuid]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[uuid] = mu
	}
	c.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// =============================================================================
// TIME ENCODING
// =============================================================================

// Timestamps are stored as unix milliseconds; conflict resolution compares
// at this resolution.

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
