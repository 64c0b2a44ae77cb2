// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SCOPE
// =============================================================================

// Scope is the visibility partition of a history record.
type Scope string

const (
	// ScopeGlobal records are visible from every machine without sign-in.
	ScopeGlobal Scope = "global"

	// ScopeUser records are visible to a validated user across machines.
	ScopeUser Scope = "user"

	// ScopeMachine records are visible only from the originating machine,
	// but still sync to the remote store under that machine's id.
	ScopeMachine Scope = "machine"

	// ScopeLocal records never leave the local cache.
	ScopeLocal Scope = "local"

	// ScopeHybrid reads the union of global, user, and machine history.
	// Writes under hybrid are routed per-record to the originating scope.
	ScopeHybrid Scope = "hybrid"
)

// ParseScope converts a string to a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeGlobal, ScopeUser, ScopeMachine, ScopeLocal, ScopeHybrid:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// IsStorage reports whether the scope names a concrete storage partition.
// Hybrid is a read selector, not a place records live.
func (s Scope) IsStorage() bool {
	return s == ScopeGlobal || s == ScopeUser || s == ScopeMachine || s == ScopeLocal
}

// Syncs reports whether records in this scope are propagated to the remote
// store. Local-only records are never queued.
func (s Scope) Syncs() bool {
	return s == ScopeGlobal || s == ScopeUser || s == ScopeMachine
}

// =============================================================================
// RECORD STATUS
// =============================================================================

// RecordStatus is the lifecycle state of a history record.
type RecordStatus string

const (
	// StatusPending means the command was submitted and no response has
	// arrived yet.
	StatusPending RecordStatus = "pending"

	// StatusAnswered means a response was attached.
	StatusAnswered RecordStatus = "answered"

	// StatusCancelled means the user aborted the in-flight question.
	// Cancellation is a terminal status value, not a queue operation.
	StatusCancelled RecordStatus = "cancelled"
)

// ParseRecordStatus converts a string to a RecordStatus.
func ParseRecordStatus(s string) (RecordStatus, error) {
	switch RecordStatus(s) {
	case StatusPending, StatusAnswered, StatusCancelled:
		return RecordStatus(s), nil
	}
	return "", fmt.Errorf("unknown record status %q", s)
}

// =============================================================================
// SYNC STATUS
// =============================================================================

// SyncStatus tracks how far a record has propagated to the remote store.
//
// The status only advances pending→synced or pending→conflict/failed. It never
// regresses except through an explicit retry reset.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
	SyncFailed   SyncStatus = "failed"
)

// ParseSyncStatus converts a string to a SyncStatus.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch SyncStatus(s) {
	case SyncPending, SyncSynced, SyncConflict, SyncFailed:
		return SyncStatus(s), nil
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// =============================================================================
// HISTORY RECORD
// =============================================================================

// HistoryRecord is one submitted command and its (eventual) response.
type HistoryRecord struct {
	// UUID is client-generated, immutable, and the sole deduplication key
	// across machines.
	UUID string `json:"uuid"`

	Command  string `json:"command"`
	Response string `json:"response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// UserID is set only for user-scoped records written by a validated
	// session.
	UserID string `json:"user_id,omitempty"`

	// MachineID identifies the originating machine.
	MachineID string `json:"machine_id"`

	Scope      Scope        `json:"scope"`
	Status     RecordStatus `json:"status"`
	SyncStatus SyncStatus   `json:"sync_status"`
}

// NewHistoryRecord creates a pending record for a freshly submitted command.
func NewHistoryRecord(command string, scope Scope, userID, machineID string) *HistoryRecord {
	now := time.Now()
	return &HistoryRecord{
		UUID:       uuid.NewString(),
		Command:    command,
		CreatedAt:  now,
		UpdatedAt:  now,
		UserID:     userID,
		MachineID:  machineID,
		Scope:      scope,
		Status:     StatusPending,
		SyncStatus: SyncPending,
	}
}

// Clone returns a copy of the record.
func (r *HistoryRecord) Clone() *HistoryRecord {
	c := *r
	return &c
}

// =============================================================================
// REFERENCE ENTITIES
// =============================================================================

// User is a read-mostly reference entity fetched from the remote store.
// The local cache never originates a User row.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

// Machine identifies one of the person's machines.
type Machine struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
