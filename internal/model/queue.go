// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// =============================================================================
// QUEUE OPERATION
// =============================================================================

// Operation is the kind of mutation a sync queue entry carries.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation converts a string to an Operation.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpInsert, OpUpdate, OpDelete:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown queue operation %q", s)
}

// =============================================================================
// QUEUE ENTRY STATE
// =============================================================================

// EntryState is the dispatch state of a queue entry.
type EntryState string

const (
	// EntryPending entries are awaiting dispatch (possibly backing off).
	EntryPending EntryState = "pending"

	// EntryFailed entries exhausted their retries and are retained as
	// dead letters for inspection. They are never retried automatically.
	EntryFailed EntryState = "failed"
)

// =============================================================================
// SYNC QUEUE ENTRY
// =============================================================================

// SyncQueueEntry is one pending mutation awaiting propagation to the remote
// store. Entries for the same record UUID are applied in SequenceID order; an
// entry is removed only after the remote store acknowledges it.
//
// Retry and backoff state lives in the entry itself so that a process restart
// resumes backoff where it left off.
type SyncQueueEntry struct {
	// SequenceID is monotonic per machine (sqlite rowid).
	SequenceID int64 `json:"sequence_id"`

	Operation   Operation `json:"operation"`
	TargetTable string    `json:"target_table"`
	RecordUUID  string    `json:"record_uuid"`

	// Payload is the serialized HistoryRecord delta (full record for
	// insert/update, uuid only for delete).
	Payload []byte `json:"payload"`

	CreatedAt time.Time `json:"created_at"`

	RetryCount    int        `json:"retry_count"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     string     `json:"last_error,omitempty"`
	State         EntryState `json:"state"`
}
