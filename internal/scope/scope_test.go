// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scope

import (
	"errors"
	"testing"

	"github.com/jeranaias/relay-tui/internal/auth"
	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/storage"
)

func validatedSession() auth.Result {
	return auth.Result{Mode: auth.ModeValidated, User: &model.User{ID: "u-1", Username: "jmorgan"}}
}

func offlineSession() auth.Result {
	return auth.Result{Mode: auth.ModeOffline}
}

// =============================================================================
// CAPABILITY GATING
// =============================================================================

func TestCapabilityGating(t *testing.T) {
	tests := []struct {
		name    string
		session auth.Result
		scope   model.Scope
		wantErr bool
	}{
		{"validated user scope", validatedSession(), model.ScopeUser, false},
		{"validated hybrid scope", validatedSession(), model.ScopeHybrid, false},
		{"offline user scope", offlineSession(), model.ScopeUser, true},
		{"offline hybrid scope", offlineSession(), model.ScopeHybrid, true},
		{"connected user scope", auth.Result{Mode: auth.ModeConnected}, model.ScopeUser, true},
		{"offline global scope", offlineSession(), model.ScopeGlobal, false},
		{"offline machine scope", offlineSession(), model.ScopeMachine, false},
		{"offline local scope", offlineSession(), model.ScopeLocal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(tt.session, "machine-1")
			_, err := r.ReadTargets(tt.scope)
			if tt.wantErr {
				if !errors.Is(err, ErrScopeUnavailable) {
					t.Errorf("ReadTargets(%s) = %v, want ErrScopeUnavailable", tt.scope, err)
				}
				var ce *CapabilityError
				if !errors.As(err, &ce) {
					t.Errorf("error is %T, want *CapabilityError", err)
				} else if ce.Scope != tt.scope {
					t.Errorf("CapabilityError.Scope = %q, want %q", ce.Scope, tt.scope)
				}
				return
			}
			if err != nil {
				t.Errorf("ReadTargets(%s) = %v, want nil", tt.scope, err)
			}
		})
	}
}

// =============================================================================
// TARGET RESOLUTION
// =============================================================================

func TestReadTargets_Hybrid(t *testing.T) {
	r := NewRouter(validatedSession(), "machine-1")

	targets, err := r.ReadTargets(model.ScopeHybrid)
	if err != nil {
		t.Fatalf("ReadTargets: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("got %d targets, want 3", len(targets))
	}

	byTable := map[string]storage.Target{}
	for _, tg := range targets {
		byTable[tg.Table] = tg
	}
	if _, ok := byTable[storage.TableLocal]; ok {
		t.Error("hybrid must not read local history")
	}
	if byTable[storage.TableUser].UserID != "u-1" {
		t.Errorf("user target UserID = %q, want u-1", byTable[storage.TableUser].UserID)
	}
	if byTable[storage.TableMachine].MachineID != "machine-1" {
		t.Errorf("machine target MachineID = %q", byTable[storage.TableMachine].MachineID)
	}
	if tg := byTable[storage.TableGlobal]; tg.UserID != "" || tg.MachineID != "" {
		t.Errorf("global target should be unconstrained, got %+v", tg)
	}
}

func TestWriteScope(t *testing.T) {
	r := NewRouter(validatedSession(), "machine-1")

	got, err := r.WriteScope(model.ScopeHybrid)
	if err != nil {
		t.Fatalf("WriteScope(hybrid): %v", err)
	}
	if got != model.ScopeUser {
		t.Errorf("WriteScope(hybrid) = %q, want user", got)
	}

	for _, s := range []model.Scope{model.ScopeGlobal, model.ScopeUser, model.ScopeMachine, model.ScopeLocal} {
		got, err := r.WriteScope(s)
		if err != nil {
			t.Errorf("WriteScope(%s): %v", s, err)
			continue
		}
		if got != s {
			t.Errorf("WriteScope(%s) = %q, want identity", s, got)
		}
	}
}

func TestWriteScope_OfflineUserRejectedSynchronously(t *testing.T) {
	r := NewRouter(offlineSession(), "machine-1")
	if _, err := r.WriteScope(model.ScopeUser); !errors.Is(err, ErrScopeUnavailable) {
		t.Errorf("WriteScope(user) offline = %v, want ErrScopeUnavailable", err)
	}
}
