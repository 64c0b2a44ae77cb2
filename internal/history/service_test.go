// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jeranaias/relay-tui/internal/auth"
	"github.com/jeranaias/relay-tui/internal/config"
	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/scope"
	"github.com/jeranaias/relay-tui/internal/storage"
	"github.com/jeranaias/relay-tui/internal/syncer"
)

// newTestService builds a service over a fresh cache with a validated
// session and no remote (the worker is inert; queue state is still
// observable through the cache).
func newTestService(t *testing.T) (*Service, *storage.Cache) {
	t.Helper()
	cache, err := storage.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	session := auth.Result{Mode: auth.ModeValidated, User: &model.User{ID: "u-1", Username: "jmorgan"}}
	router := scope.NewRouter(session, "machine-1")
	worker := syncer.New(cache, nil, session, nil, defaultTestSyncConfig())
	return NewService(cache, router, worker), cache
}

func defaultTestSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		SyncIntervalMS:      30000,
		MaxRetries:          5,
		DispatchConcurrency: 2,
		DispatchRatePerSec:  100,
		DrainTimeoutMS:      1000,
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit(t *testing.T) {
	svc, cache := newTestService(t)

	rec, err := svc.Submit("git status", model.ScopeUser)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.UUID == "" {
		t.Fatal("Submit returned record without uuid")
	}
	if rec.UserID != "u-1" {
		t.Errorf("UserID = %q, want bound user", rec.UserID)
	}
	if rec.MachineID != "machine-1" {
		t.Errorf("MachineID = %q", rec.MachineID)
	}
	if rec.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", rec.Status)
	}

	// Durable before return, and queued for sync.
	stored, err := cache.Get(rec.UUID)
	if err != nil {
		t.Fatalf("Get after Submit: %v", err)
	}
	if stored.Command != "git status" {
		t.Errorf("Command = %q", stored.Command)
	}
	if n, _ := cache.PendingCount(); n != 1 {
		t.Errorf("PendingCount = %d, want 1", n)
	}
}

func TestSubmit_HybridWritesAsUser(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Submit("ls", model.ScopeHybrid)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Scope != model.ScopeUser {
		t.Errorf("Scope = %q, want user (hybrid is a read selector)", rec.Scope)
	}
}

func TestSubmit_LocalNeverQueued(t *testing.T) {
	svc, cache := newTestService(t)

	if _, err := svc.Submit("secret command", model.ScopeLocal); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n, _ := cache.PendingCount(); n != 0 {
		t.Errorf("PendingCount = %d, local scope must never sync", n)
	}
}

func TestSubmit_UserScopeOfflineRejected(t *testing.T) {
	cache, err := storage.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	session := auth.Result{Mode: auth.ModeOffline}
	svc := NewService(cache, scope.NewRouter(session, "machine-1"),
		syncer.New(cache, nil, session, nil, defaultTestSyncConfig()))

	if _, err := svc.Submit("whoami", model.ScopeUser); !errors.Is(err, scope.ErrScopeUnavailable) {
		t.Errorf("Submit(user) offline = %v, want ErrScopeUnavailable", err)
	}
	// Nothing was stored or queued.
	if n, _ := cache.PendingCount(); n != 0 {
		t.Errorf("PendingCount = %d after rejected write", n)
	}
}

// =============================================================================
// RESPONSE & CANCEL
// =============================================================================

func TestAttachResponse(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Submit("git log", model.ScopeUser)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	updated, err := svc.AttachResponse(rec.UUID, "commit abc123")
	if err != nil {
		t.Fatalf("AttachResponse: %v", err)
	}
	if updated.Status != model.StatusAnswered {
		t.Errorf("Status = %q, want answered", updated.Status)
	}
	if updated.Response != "commit abc123" {
		t.Errorf("Response = %q", updated.Response)
	}
	if !updated.UpdatedAt.After(rec.CreatedAt) && !updated.UpdatedAt.Equal(rec.CreatedAt) {
		t.Errorf("UpdatedAt = %v not advanced past %v", updated.UpdatedAt, rec.CreatedAt)
	}

	// Answered is terminal for responses.
	if _, err := svc.AttachResponse(rec.UUID, "again"); !errors.Is(err, ErrNotPending) {
		t.Errorf("second AttachResponse = %v, want ErrNotPending", err)
	}
}

func TestAttachResponse_RestampsMachineID(t *testing.T) {
	svc, cache := newTestService(t)

	// A record that originated on another machine and synced here.
	rec := model.NewHistoryRecord("uname -a", model.ScopeUser, "u-1", "machine-9")
	if err := cache.ApplyRemote(rec); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}

	updated, err := svc.AttachResponse(rec.UUID, "Linux relay")
	if err != nil {
		t.Fatalf("AttachResponse: %v", err)
	}
	// The update belongs to this machine now; the conflict tie-break compares
	// last writers, not originators.
	if updated.MachineID != "machine-1" {
		t.Errorf("MachineID = %q, want machine-1 (last writer)", updated.MachineID)
	}
}

func TestCancel(t *testing.T) {
	svc, cache := newTestService(t)

	rec, err := svc.Submit("sleep 1000", model.ScopeUser)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	queuedBefore, _ := cache.PendingCount()

	cancelled, err := svc.Cancel(rec.UUID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", cancelled.Status)
	}

	// Cancellation does not revoke earlier queue entries; it rides along as
	// one more update.
	queuedAfter, _ := cache.PendingCount()
	if queuedAfter != queuedBefore+1 {
		t.Errorf("PendingCount = %d, want %d (prior entries untouched)", queuedAfter, queuedBefore+1)
	}

	if _, err := svc.AttachResponse(rec.UUID, "too late"); !errors.Is(err, ErrNotPending) {
		t.Errorf("AttachResponse after cancel = %v, want ErrNotPending", err)
	}
}

// =============================================================================
// QUERY
// =============================================================================

func TestQuery_ScopeVisibility(t *testing.T) {
	svc, _ := newTestService(t)

	for _, s := range []model.Scope{model.ScopeGlobal, model.ScopeUser, model.ScopeMachine, model.ScopeLocal} {
		if _, err := svc.Submit("cmd "+string(s), s); err != nil {
			t.Fatalf("Submit %s: %v", s, err)
		}
	}

	hybrid, err := svc.Query(model.ScopeHybrid, storage.Filter{})
	if err != nil {
		t.Fatalf("Query(hybrid): %v", err)
	}
	if len(hybrid) != 3 {
		t.Errorf("hybrid query got %d records, want 3 (no local)", len(hybrid))
	}

	local, err := svc.Query(model.ScopeLocal, storage.Filter{})
	if err != nil {
		t.Fatalf("Query(local): %v", err)
	}
	if len(local) != 1 || local[0].Command != "cmd local" {
		t.Errorf("local query = %v", local)
	}

	filtered, err := svc.Query(model.ScopeHybrid, storage.Filter{Contains: "cmd user"})
	if err != nil {
		t.Fatalf("Query filtered: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("filtered query got %d records, want 1", len(filtered))
	}
}

func TestMachines(t *testing.T) {
	svc, cache := newTestService(t)

	if err := cache.CacheMachine(model.Machine{ID: "machine-1", Hostname: "devbox"}); err != nil {
		t.Fatalf("CacheMachine: %v", err)
	}
	if err := cache.CacheMachine(model.Machine{ID: "machine-2", Hostname: "laptop"}); err != nil {
		t.Fatalf("CacheMachine: %v", err)
	}

	machines, err := svc.Machines()
	if err != nil {
		t.Fatalf("Machines: %v", err)
	}
	if len(machines) != 2 {
		t.Errorf("Machines returned %d entries, want 2", len(machines))
	}
}
