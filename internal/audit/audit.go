// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit keeps the append-only trail of sync outcomes that would
// otherwise vanish: conflict losers and dead-lettered queue entries.
//
// Conflict resolution is last-write-wins, so the losing version is not kept
// in the cache — it is recorded here instead. Entries are JSON lines; the
// log is for inspection only and is never re-applied.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
)

// Event types recorded in the trail.
const (
	EventConflictLoser = "CONFLICT_LOSER"
	EventDeadLetter    = "DEAD_LETTER"
)

// Entry is one line of the audit trail.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`

	// RecordUUID identifies the affected history record.
	RecordUUID string `json:"record_uuid"`

	// Loser is the discarded version for conflict events.
	Loser *model.HistoryRecord `json:"loser,omitempty"`

	// SequenceID and Error describe dead-lettered queue entries.
	SequenceID int64  `json:"sequence_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Logger appends audit entries to a file. Safe for concurrent use.
// A nil *Logger discards everything, so callers never need to branch on
// whether auditing is enabled.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// NewLogger opens (creating if needed) the audit log at path. The file gets
// 0600 permissions: history content flows through it.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Logger{file: f}, nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// LogConflictLoser records the version that lost a conflict resolution.
func (l *Logger) LogConflictLoser(loser *model.HistoryRecord) {
	if loser == nil {
		return
	}
	l.append(Entry{
		Timestamp:  time.Now(),
		Event:      EventConflictLoser,
		RecordUUID: loser.UUID,
		Loser:      loser,
	})
}

// LogDeadLetter records a queue entry retired after exhausting retries.
func (l *Logger) LogDeadLetter(entry *model.SyncQueueEntry) {
	if entry == nil {
		return
	}
	l.append(Entry{
		Timestamp:  time.Now(),
		Event:      EventDeadLetter,
		RecordUUID: entry.RecordUUID,
		SequenceID: entry.SequenceID,
		Error:      entry.LastError,
	})
}

// append writes one JSON line. Audit failures are swallowed: the trail is
// best-effort and must never take down a sync cycle.
func (l *Logger) append(e Entry) {
	if l == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Write(append(data, '\n'))
}
