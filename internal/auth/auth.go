// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/remote"
	"github.com/jeranaias/relay-tui/internal/storage"
)

// ErrUserNotFound re-exports the remote sentinel so callers can test the
// fatal outcome without importing the transport package.
var ErrUserNotFound = remote.ErrUserNotFound

// =============================================================================
// STATES & RESULTS
// =============================================================================

// State is the authenticator's position in its state machine.
type State string

const (
	StateUnstarted    State = "unstarted"
	StateConnecting   State = "connecting"
	StateValidated    State = "validated"
	StateConnected    State = "connected" // reachable, no identity requested
	StateUserNotFound State = "user_not_found"
	StateOffline      State = "offline"
)

// Mode is how the session may talk to the remote store.
type Mode string

const (
	// ModeValidated: connected, identity confirmed, user id bound.
	ModeValidated Mode = "validated"

	// ModeConnected: connected with no identity requested. Global and
	// machine scopes sync; user scope stays unavailable.
	ModeConnected Mode = "connected"

	// ModeOffline: the remote store is unreachable or unconfigured.
	ModeOffline Mode = "offline"
)

// Result is the outcome of session authentication.
type Result struct {
	Mode Mode

	// User is set only for ModeValidated.
	User *model.User
}

// Online reports whether the remote store is reachable in this session.
func (r Result) Online() bool {
	return r.Mode == ModeValidated || r.Mode == ModeConnected
}

// UserID returns the bound user id, or "" when no identity is bound.
func (r Result) UserID() string {
	if r.User != nil {
		return r.User.ID
	}
	return ""
}

// =============================================================================
// AUTHENTICATOR
// =============================================================================

// Authenticator runs once at startup and records the session's mode.
type Authenticator struct {
	client  *remote.Client // nil when sync is not configured
	cache   *storage.Cache
	machine model.Machine
	timeout time.Duration

	mu     sync.Mutex
	state  State
	result Result
}

// New creates an authenticator. client may be nil for offline-only
// configurations; authentication then resolves to Offline without touching
// the network.
func New(client *remote.Client, cache *storage.Cache, machine model.Machine, connectTimeout time.Duration) *Authenticator {
	return &Authenticator{
		client:  client,
		cache:   cache,
		machine: machine,
		timeout: connectTimeout,
		state:   StateUnstarted,
	}
}

// State returns the current state machine position.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Result returns the authentication outcome. Valid once Authenticate has
// returned.
func (a *Authenticator) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Authenticate validates the requested identity against the remote store.
//
// identity == "" skips validation: the session proceeds as Connected or
// Offline depending on reachability alone. The wait is bounded by the
// configured connect timeout; timeouts and connection errors resolve to
// Offline with a nil error. ErrUserNotFound is returned only when the remote
// store answered and the active-account lookup matched nothing.
func (a *Authenticator) Authenticate(ctx context.Context, identity string) (Result, error) {
	a.setState(StateConnecting)

	if a.client == nil {
		return a.finish(StateOffline, Result{Mode: ModeOffline}), nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if identity == "" {
		if err := a.client.Ping(ctx); err != nil {
			log.Printf("auth: remote unreachable, continuing offline: %v", err)
			return a.finish(StateOffline, Result{Mode: ModeOffline}), nil
		}
		a.registerMachine(ctx)
		return a.finish(StateConnected, Result{Mode: ModeConnected}), nil
	}

	user, err := a.client.LookupUser(ctx, identity)
	if err != nil {
		if errors.Is(err, remote.ErrUserNotFound) {
			a.setState(StateUserNotFound)
			return Result{Mode: ModeOffline},
				fmt.Errorf("no active account for %q: %w", identity, ErrUserNotFound)
		}
		// Connectivity problems (and anything else network-shaped) mean
		// offline, not failure.
		log.Printf("auth: remote unreachable, continuing offline: %v", err)
		return a.finish(StateOffline, Result{Mode: ModeOffline}), nil
	}

	// Mirror the validated user for offline reads and refresh this
	// machine's registration. Both are best-effort beyond the cache write.
	if cacheErr := a.cache.CacheUser(*user); cacheErr != nil {
		return Result{Mode: ModeOffline}, cacheErr
	}
	a.registerMachine(ctx)

	return a.finish(StateValidated, Result{Mode: ModeValidated, User: user}), nil
}

// registerMachine refreshes this machine's row remotely and locally.
// Failures are logged, not fatal: registration is bookkeeping, not a gate.
func (a *Authenticator) registerMachine(ctx context.Context) {
	m := a.machine
	now := time.Now()
	if m.FirstSeen.IsZero() {
		m.FirstSeen = now
	}
	m.LastSeen = now

	if err := a.client.RegisterMachine(ctx, m); err != nil {
		log.Printf("auth: machine registration failed: %v", err)
	}
	if err := a.cache.CacheMachine(m); err != nil {
		log.Printf("auth: machine cache write failed: %v", err)
	}
}

func (a *Authenticator) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Authenticator) finish(s State, r Result) Result {
	a.mu.Lock()
	a.state = s
	a.result = r
	a.mu.Unlock()
	return r
}
