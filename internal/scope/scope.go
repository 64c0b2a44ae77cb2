// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package scope

import (
	"errors"
	"fmt"

	"github.com/jeranaias/relay-tui/internal/auth"
	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrScopeUnavailable is the sentinel for capability failures.
// Use errors.Is(err, ErrScopeUnavailable) to detect them.
var ErrScopeUnavailable = errors.New("scope unavailable")

// CapabilityError reports that a requested scope needs a capability the
// session does not have. Returned synchronously, before any storage or
// network side effect.
type CapabilityError struct {
	Scope  model.Scope
	Reason string
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("scope %q unavailable: %s", e.Scope, e.Reason)
}

// Is makes the error match ErrScopeUnavailable.
func (e *CapabilityError) Is(target error) bool {
	return target == ErrScopeUnavailable
}

// =============================================================================
// ROUTER
// =============================================================================

// Router resolves scopes for one authenticated session.
type Router struct {
	session   auth.Result
	machineID string
}

// NewRouter creates a router bound to the session's authentication result
// and this machine's identity.
func NewRouter(session auth.Result, machineID string) *Router {
	return &Router{session: session, machineID: machineID}
}

// ReadTargets returns the tables (with row constraints) a read under the
// scope must consult.
//
//	global  → history_global
//	user    → history_user, restricted to the bound user id
//	machine → history_machine, restricted to this machine
//	local   → history_local
//	hybrid  → union of global + user + machine
func (r *Router) ReadTargets(s model.Scope) ([]storage.Target, error) {
	if err := r.check(s); err != nil {
		return nil, err
	}

	switch s {
	case model.ScopeGlobal:
		return []storage.Target{{Table: storage.TableGlobal}}, nil
	case model.ScopeUser:
		return []storage.Target{{Table: storage.TableUser, UserID: r.session.UserID()}}, nil
	case model.ScopeMachine:
		return []storage.Target{{Table: storage.TableMachine, MachineID: r.machineID}}, nil
	case model.ScopeLocal:
		return []storage.Target{{Table: storage.TableLocal}}, nil
	case model.ScopeHybrid:
		return []storage.Target{
			{Table: storage.TableGlobal},
			{Table: storage.TableUser, UserID: r.session.UserID()},
			{Table: storage.TableMachine, MachineID: r.machineID},
		}, nil
	}
	return nil, fmt.Errorf("unknown scope %q", s)
}

// WriteScope resolves the storage scope a new record is written under.
// Hybrid is a read selector; a fresh write under hybrid originates at the
// user scope (the broadest scope a validated session owns).
func (r *Router) WriteScope(s model.Scope) (model.Scope, error) {
	if err := r.check(s); err != nil {
		return "", err
	}
	if s == model.ScopeHybrid {
		return model.ScopeUser, nil
	}
	return s, nil
}

// UserID returns the bound user id ("" when not validated).
func (r *Router) UserID() string { return r.session.UserID() }

// MachineID returns this machine's identity.
func (r *Router) MachineID() string { return r.machineID }

// check enforces the capability column of the scope table: user and hybrid
// demand a validated identity. Everything else is always available — global
// and machine scopes work offline and reconcile later, and local never
// syncs at all.
func (r *Router) check(s model.Scope) error {
	switch s {
	case model.ScopeUser, model.ScopeHybrid:
		if r.session.Mode != auth.ModeValidated {
			reason := "requires a validated user identity"
			if r.session.Mode == auth.ModeOffline {
				reason = "requires a validated user identity, but the session is offline"
			}
			return &CapabilityError{Scope: s, Reason: reason}
		}
	}
	return nil
}
