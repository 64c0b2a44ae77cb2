// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
)

// Retry policy constants for queue dispatch.
const (
	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 1 * time.Second

	// retryMaxDelay caps the backoff between attempts.
	retryMaxDelay = 30 * time.Second
)

// =============================================================================
// ENQUEUE
// =============================================================================

// enqueueTx appends a queue entry inside the transaction of the durable write
// it belongs to, so a record mutation and its pending sync entry commit or
// roll back together.
func enqueueTx(tx *sql.Tx, op model.Operation, table, uuid string, payload []byte) error {
	_, err := tx.Exec(`
		INSERT INTO sync_queue (operation, target_table, record_uuid, payload,
		                        created_at, retry_count, next_attempt_at, state)
		VALUES (?, ?, ?, ?, ?, 0, 0, 'pending')`,
		string(op), table, uuid, payload, timeToMs(time.Now()))
	return err
}

// Enqueue appends a standalone queue entry. Put handles the normal path;
// this exists for mutations that carry no cache write of their own (deletes).
func (c *Cache) Enqueue(op model.Operation, table, uuid string, payload []byte) error {
	tx, err := c.db.Begin()
	if err != nil {
		return storageErr("enqueue", err)
	}
	defer tx.Rollback()
	if err := enqueueTx(tx, op, table, uuid, payload); err != nil {
		return storageErr("enqueue", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("enqueue", err)
	}
	return nil
}

// =============================================================================
// PEEK
// =============================================================================

// PeekBatch returns up to maxN dispatchable entries: pending, past their
// backoff deadline, and each the head of its record's FIFO line. An entry
// whose predecessor for the same record is still pending (e.g. backing off)
// is held back, which preserves per-record ordering. Dead-lettered
// predecessors do not block the line: payloads are full records, so a later
// upsert supersedes whatever the failed entry carried.
func (c *Cache) PeekBatch(maxN int) ([]*model.SyncQueueEntry, error) {
	rows, err := c.db.Query(`
		SELECT sequence_id, operation, target_table, record_uuid, payload,
		       created_at, retry_count, next_attempt_at, last_error, state
		FROM sync_queue AS q
		WHERE state = 'pending'
		  AND next_attempt_at <= ?
		  AND sequence_id = (
		      SELECT MIN(sequence_id) FROM sync_queue
		      WHERE record_uuid = q.record_uuid AND state != 'failed')
		ORDER BY sequence_id ASC
		LIMIT ?`,
		timeToMs(time.Now()), maxN)
	if err != nil {
		return nil, storageErr("peek", err)
	}
	defer rows.Close()

	var entries []*model.SyncQueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("peek", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("peek", err)
	}
	return entries, nil
}

// =============================================================================
// ACK / FAIL
// =============================================================================

// Ack removes an acknowledged entry. Entries leave the queue only through
// acknowledgment or dead-lettering, never through dispatch alone.
func (c *Cache) Ack(sequenceID int64) error {
	res, err := c.db.Exec(`DELETE FROM sync_queue WHERE sequence_id = ?`, sequenceID)
	if err != nil {
		return storageErr("ack", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Fail records a dispatch failure. The retry count and the next attempt
// deadline persist in the row, so backoff survives a process restart. Once
// retryCount exceeds maxRetries the entry moves to the failed dead-letter
// state and is no longer retried automatically.
//
// Returns the entry's new state.
func (c *Cache) Fail(sequenceID int64, dispatchErr string, maxRetries int) (model.EntryState, error) {
	var retries int
	err := c.db.QueryRow(
		`SELECT retry_count FROM sync_queue WHERE sequence_id = ?`, sequenceID).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrEntryNotFound
	}
	if err != nil {
		return "", storageErr("fail", err)
	}

	retries++
	state := model.EntryPending
	if retries > maxRetries {
		state = model.EntryFailed
	}

	next := time.Now().Add(backoffDelay(retries))
	_, err = c.db.Exec(`
		UPDATE sync_queue
		SET retry_count = ?, next_attempt_at = ?, last_error = ?, state = ?
		WHERE sequence_id = ?`,
		retries, timeToMs(next), dispatchErr, string(state), sequenceID)
	if err != nil {
		return "", storageErr("fail", err)
	}
	return state, nil
}

// FailPermanent dead-letters an entry immediately, bypassing retries.
// Used for permanent remote errors (schema mismatch and the like) where
// retrying cannot help.
func (c *Cache) FailPermanent(sequenceID int64, dispatchErr string) error {
	res, err := c.db.Exec(`
		UPDATE sync_queue SET last_error = ?, state = 'failed' WHERE sequence_id = ?`,
		dispatchErr, sequenceID)
	if err != nil {
		return storageErr("fail", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DropPending removes the pending entries for a record. Entries normally
// leave the queue only on acknowledgment; this is the one exception, taken
// when conflict resolution decides the remote version wins — the queued
// mutations would re-apply the losing version, which resolution forbids.
// The caller records the loser in the audit trail first.
func (c *Cache) DropPending(uuid string) error {
	_, err := c.db.Exec(
		`DELETE FROM sync_queue WHERE record_uuid = ? AND state = 'pending'`, uuid)
	if err != nil {
		return storageErr("drop", err)
	}
	return nil
}

// backoffDelay computes the exponential backoff before the next attempt:
// 1s, 2s, 4s, ... capped at retryMaxDelay.
func backoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	shift := uint(retryCount - 1)
	if shift > 10 {
		shift = 10
	}
	delay := retryBaseDelay * time.Duration(1<<shift)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// =============================================================================
// INSPECTION & MANUAL RETRY
// =============================================================================

// PendingCount returns the number of entries awaiting dispatch.
func (c *Cache) PendingCount() (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE state = 'pending'`).Scan(&n)
	if err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// HasPending reports whether any entries remain queued for a record.
func (c *Cache) HasPending(uuid string) (bool, error) {
	var n int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM sync_queue WHERE record_uuid = ? AND state = 'pending'`,
		uuid).Scan(&n)
	if err != nil {
		return false, storageErr("count", err)
	}
	return n > 0, nil
}

// DeadLetters returns entries retired after exhausting retries. They are kept
// for inspection, not discarded.
func (c *Cache) DeadLetters() ([]*model.SyncQueueEntry, error) {
	rows, err := c.db.Query(`
		SELECT sequence_id, operation, target_table, record_uuid, payload,
		       created_at, retry_count, next_attempt_at, last_error, state
		FROM sync_queue WHERE state = 'failed' ORDER BY sequence_id ASC`)
	if err != nil {
		return nil, storageErr("deadletters", err)
	}
	defer rows.Close()

	var entries []*model.SyncQueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr("deadletters", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ResetFailed performs the manual retry reset: dead-lettered entries return
// to pending with a cleared retry count, and their records return to sync
// pending. This is the only path by which a sync status regresses.
func (c *Cache) ResetFailed() (int, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return 0, storageErr("reset", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT DISTINCT record_uuid, target_table FROM sync_queue WHERE state = 'failed'`)
	if err != nil {
		return 0, storageErr("reset", err)
	}
	type ref struct{ uuid, table string }
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.uuid, &r.table); err != nil {
			rows.Close()
			return 0, storageErr("reset", err)
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storageErr("reset", err)
	}

	res, err := tx.Exec(`
		UPDATE sync_queue
		SET state = 'pending', retry_count = 0, next_attempt_at = 0, last_error = ''
		WHERE state = 'failed'`)
	if err != nil {
		return 0, storageErr("reset", err)
	}

	for _, r := range refs {
		if _, err := tx.Exec(
			`UPDATE `+r.table+` SET sync_status = ? WHERE uuid = ?`,
			string(model.SyncPending), r.uuid); err != nil {
			return 0, storageErr("reset", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("reset", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// ROW SCANNING
// =============================================================================

func scanEntry(s scanner) (*model.SyncQueueEntry, error) {
	var (
		entry             model.SyncQueueEntry
		op, state         string
		createdMs, nextMs int64
	)
	if err := s.Scan(&entry.SequenceID, &op, &entry.TargetTable, &entry.RecordUUID,
		&entry.Payload, &createdMs, &entry.RetryCount, &nextMs,
		&entry.LastError, &state); err != nil {
		return nil, err
	}

	parsed, err := model.ParseOperation(op)
	if err != nil {
		return nil, err
	}
	entry.Operation = parsed
	entry.CreatedAt = msToTime(createdMs)
	entry.NextAttemptAt = msToTime(nextMs)
	entry.State = model.EntryState(state)
	return &entry, nil
}
