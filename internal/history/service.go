// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/scope"
	"github.com/jeranaias/relay-tui/internal/storage"
	"github.com/jeranaias/relay-tui/internal/syncer"
)

// ErrNotPending indicates an operation that only applies to a record still
// awaiting its response.
var ErrNotPending = errors.New("record is not pending")

// Service is the history API for the rest of the application.
type Service struct {
	cache  *storage.Cache
	router *scope.Router
	worker *syncer.Worker
}

// NewService wires the history surface together.
func NewService(cache *storage.Cache, router *scope.Router, worker *syncer.Worker) *Service {
	return &Service{cache: cache, router: router, worker: worker}
}

// =============================================================================
// WRITES
// =============================================================================

// Submit records a freshly entered command under the given scope and returns
// the stored record. The write is durable before return; propagation to the
// remote store happens in the background.
func (s *Service) Submit(command string, sc model.Scope) (*model.HistoryRecord, error) {
	ws, err := s.router.WriteScope(sc)
	if err != nil {
		return nil, err
	}

	var userID string
	if ws == model.ScopeUser {
		userID = s.router.UserID()
	}

	rec := model.NewHistoryRecord(command, ws, userID, s.router.MachineID())
	if err := s.cache.Put(rec); err != nil {
		return nil, fmt.Errorf("store command: %w", err)
	}
	if ws.Syncs() {
		s.worker.Trigger()
	}
	return rec, nil
}

// AttachResponse completes a pending record with the assistant's response.
func (s *Service) AttachResponse(uuid, response string) (*model.HistoryRecord, error) {
	return s.transition(uuid, func(rec *model.HistoryRecord) error {
		if rec.Status != model.StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, uuid, rec.Status)
		}
		rec.Response = response
		rec.Status = model.StatusAnswered
		return nil
	})
}

// Cancel marks a pending record cancelled. Queue entries already appended for
// it are left alone; the cancellation itself propagates as a regular update.
func (s *Service) Cancel(uuid string) (*model.HistoryRecord, error) {
	return s.transition(uuid, func(rec *model.HistoryRecord) error {
		if rec.Status != model.StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, uuid, rec.Status)
		}
		rec.Status = model.StatusCancelled
		return nil
	})
}

// transition applies a status change under the record's lock and stores it
// through the local-origin write path. The record is re-stamped with this
// machine's id: machine_id identifies the last writer, which is what the
// conflict tie-break compares when two machines update a record within the
// same millisecond.
func (s *Service) transition(uuid string, mutate func(*model.HistoryRecord) error) (*model.HistoryRecord, error) {
	unlock := s.cache.LockRecord(uuid)
	defer unlock()

	rec, err := s.cache.Get(uuid)
	if err != nil {
		return nil, err
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now()
	rec.MachineID = s.router.MachineID()
	rec.SyncStatus = model.SyncPending
	if err := s.cache.Put(rec); err != nil {
		return nil, err
	}
	if rec.Scope.Syncs() {
		s.worker.Trigger()
	}
	return rec, nil
}

// =============================================================================
// READS
// =============================================================================

// Query returns records visible under the given scope, oldest first. The
// hybrid scope reads across global, user, and machine history in one pass.
func (s *Service) Query(sc model.Scope, filter storage.Filter) ([]*model.HistoryRecord, error) {
	targets, err := s.router.ReadTargets(sc)
	if err != nil {
		return nil, err
	}
	return s.cache.GetByScope(targets, filter)
}

// Get returns one record by uuid.
func (s *Service) Get(uuid string) (*model.HistoryRecord, error) {
	return s.cache.Get(uuid)
}

// Machines lists the machines this account's history has been seen on,
// from the local reference cache.
func (s *Service) Machines() ([]model.Machine, error) {
	return s.cache.Machines()
}

// =============================================================================
// SYNC CONTROL
// =============================================================================

// SyncStatus reports queue depth and the last sync cycle outcome.
func (s *Service) SyncStatus() (syncer.Status, error) {
	return s.worker.Status()
}

// SyncNow requests a sync cycle outside the regular interval.
func (s *Service) SyncNow() {
	s.worker.Trigger()
}

// RetryFailed returns dead-lettered queue entries to the pending state and
// kicks a cycle. Returns how many entries were revived.
func (s *Service) RetryFailed() (int, error) {
	n, err := s.cache.ResetFailed()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.worker.Trigger()
	}
	return n, nil
}
