// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/remote"
	"github.com/jeranaias/relay-tui/internal/storage"
)

func openTestCache(t *testing.T) *storage.Cache {
	t.Helper()
	c, err := storage.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testMachine() model.Machine {
	return model.Machine{ID: "machine-1", Hostname: "devbox"}
}

// remoteStub serves the user lookup and machine registration endpoints.
func remoteStub(t *testing.T, users map[string]model.User) (*remote.Client, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch {
		case r.URL.Path == "/v1/ping":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case r.URL.Path == "/v1/users":
			matched := []model.User{}
			if u, ok := users[r.URL.Query().Get("username")]; ok {
				matched = append(matched, u)
			}
			json.NewEncoder(w).Encode(map[string]any{"users": matched})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := remote.NewClient(srv.URL, "test-token")
	require.NoError(t, err)
	return client, &calls
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestAuthenticate_OfflineOnlyConfiguration(t *testing.T) {
	a := New(nil, openTestCache(t), testMachine(), time.Second)
	require.Equal(t, StateUnstarted, a.State())

	res, err := a.Authenticate(context.Background(), "jmorgan")
	require.NoError(t, err, "offline-only must be a success path")
	require.Equal(t, ModeOffline, res.Mode)
	require.Equal(t, StateOffline, a.State())
	require.False(t, res.Online())
	require.Empty(t, res.UserID())
}

func TestAuthenticate_Validated(t *testing.T) {
	cache := openTestCache(t)
	client, _ := remoteStub(t, map[string]model.User{
		"jmorgan": {ID: "u-1", Username: "jmorgan", IsActive: true},
	})

	a := New(client, cache, testMachine(), time.Second)
	res, err := a.Authenticate(context.Background(), "jmorgan")
	require.NoError(t, err)
	require.Equal(t, ModeValidated, res.Mode)
	require.Equal(t, StateValidated, a.State())
	require.Equal(t, "u-1", res.UserID())
	require.True(t, res.Online())

	// The validated user is mirrored locally for offline reads.
	cached, err := cache.UserByUsername("jmorgan")
	require.NoError(t, err)
	require.Equal(t, "u-1", cached.ID)

	// And the machine registration was cached too.
	machines, err := cache.Machines()
	require.NoError(t, err)
	require.Len(t, machines, 1)
	require.Equal(t, "machine-1", machines[0].ID)
}

func TestAuthenticate_UserNotFound(t *testing.T) {
	client, _ := remoteStub(t, nil)

	a := New(client, openTestCache(t), testMachine(), time.Second)
	res, err := a.Authenticate(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Equal(t, StateUserNotFound, a.State())
	require.Equal(t, ModeOffline, res.Mode)
}

func TestAuthenticate_UserLookup404IsFatal(t *testing.T) {
	// A 404 on the lookup is the store saying "no such account". That must
	// surface like an empty result set, never dissolve into the offline path.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such user"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client, err := remote.NewClient(srv.URL, "test-token")
	require.NoError(t, err)

	a := New(client, openTestCache(t), testMachine(), time.Second)
	res, authErr := a.Authenticate(context.Background(), "ghost")
	require.ErrorIs(t, authErr, ErrUserNotFound)
	require.Equal(t, StateUserNotFound, a.State())
	require.Equal(t, ModeOffline, res.Mode)
}

func TestAuthenticate_UnreachableFallsBackToOffline(t *testing.T) {
	// A server that existed once and is now gone: connection refused.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := remote.NewClient(url, "test-token")
	require.NoError(t, err)

	a := New(client, openTestCache(t), testMachine(), time.Second)
	res, authErr := a.Authenticate(context.Background(), "jmorgan")
	require.NoError(t, authErr, "unreachable remote is the offline path, not a failure")
	require.Equal(t, ModeOffline, res.Mode)
	require.Equal(t, StateOffline, a.State())
}

func TestAuthenticate_AnonymousConnected(t *testing.T) {
	client, _ := remoteStub(t, nil)

	a := New(client, openTestCache(t), testMachine(), time.Second)
	res, err := a.Authenticate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, ModeConnected, res.Mode)
	require.Equal(t, StateConnected, a.State())
	require.True(t, res.Online())
	require.Empty(t, res.UserID(), "anonymous session binds no user")
}

// =============================================================================
// MACHINE IDENTITY
// =============================================================================

func TestLoadMachine_StableAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadMachine(dir)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := LoadMachine(dir)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "machine id must survive restarts")
}
