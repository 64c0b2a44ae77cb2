// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "test-token")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.httpClient = srv.Client()
	return c
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewClient_NotConfigured(t *testing.T) {
	if _, err := NewClient("", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("NewClient(\"\",\"\") = %v, want ErrNotConfigured", err)
	}
	if _, err := NewClient("https://x", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("NewClient(url, \"\") = %v, want ErrNotConfigured", err)
	}
}

// =============================================================================
// STATUS CLASSIFICATION
// =============================================================================

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		permanent bool
	}{
		{200, false, false},
		{204, false, false},
		{408, true, false},
		{429, true, false},
		{500, true, false},
		{503, true, false},
		{400, false, true},
		{401, false, true},
		{404, false, true},
		{422, false, true},
	}

	for _, tt := range tests {
		err := classifyStatus(tt.status, nil)
		var te *TransientError
		var pe *PermanentError
		if got := errors.As(err, &te); got != tt.transient {
			t.Errorf("classifyStatus(%d) transient = %v, want %v", tt.status, got, tt.transient)
		}
		err = classifyStatus(tt.status, nil)
		if got := errors.As(err, &pe); got != tt.permanent {
			t.Errorf("classifyStatus(%d) permanent = %v, want %v", tt.status, got, tt.permanent)
		}
	}
}

// =============================================================================
// USERS
// =============================================================================

func TestLookupUser(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("active") != "true" {
			t.Errorf("active = %q, want true", r.URL.Query().Get("active"))
		}

		switch r.URL.Query().Get("username") {
		case "jmorgan":
			json.NewEncoder(w).Encode(map[string]any{
				"users": []model.User{{ID: "u-1", Username: "jmorgan", IsActive: true}},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{"users": []model.User{}})
		}
	}))

	u, err := client.LookupUser(context.Background(), "jmorgan")
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if u.ID != "u-1" {
		t.Errorf("ID = %q, want u-1", u.ID)
	}

	// A ghost username is a distinct outcome from connectivity failure.
	if _, err := client.LookupUser(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("LookupUser(ghost) = %v, want ErrUserNotFound", err)
	}
}

func TestLookupUser_404IsNotFound(t *testing.T) {
	// Some stores answer an unknown username with 404 instead of an empty
	// list. Both mean the same thing: no such account, not a connectivity
	// problem.
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such user"}`, http.StatusNotFound)
	}))

	if _, err := client.LookupUser(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("LookupUser on 404 = %v, want ErrUserNotFound", err)
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func TestDeleteRecord_AbsentIsOK(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))

	if err := client.DeleteRecord(context.Background(), "history_user", "gone"); err != nil {
		t.Errorf("DeleteRecord(absent) = %v, want nil", err)
	}
}

func TestPullChanges(t *testing.T) {
	rec := model.NewHistoryRecord("git log", model.ScopeUser, "u-1", "m-1")
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("since") {
		case "":
			json.NewEncoder(w).Encode(ChangeSet{
				Records:    []*model.HistoryRecord{rec},
				NextCursor: "c-1",
			})
		case "c-1":
			json.NewEncoder(w).Encode(ChangeSet{})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("since"))
		}
	}))

	page, err := client.PullChanges(context.Background(), "history_user", "", 10)
	if err != nil {
		t.Fatalf("PullChanges: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].UUID != rec.UUID {
		t.Fatalf("Records = %v, want the one record", page.Records)
	}
	if page.NextCursor != "c-1" {
		t.Errorf("NextCursor = %q, want c-1", page.NextCursor)
	}

	// An empty page must not rewind the cursor.
	page, err = client.PullChanges(context.Background(), "history_user", "c-1", 10)
	if err != nil {
		t.Fatalf("PullChanges empty: %v", err)
	}
	if page.NextCursor != "c-1" {
		t.Errorf("empty page NextCursor = %q, want c-1 preserved", page.NextCursor)
	}
}

// =============================================================================
// TIMEOUTS & TRANSIENCE
// =============================================================================

func TestCallTimeout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	client.SetCallTimeout(50 * time.Millisecond)

	err := client.Ping(context.Background())
	if !errors.Is(err, ErrConnectivityTimeout) {
		t.Errorf("Ping = %v, want ErrConnectivityTimeout", err)
	}
	if !IsTransient(err) {
		t.Error("timeout should be transient")
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("cancellation is not transient")
	}
	if !IsTransient(&TransientError{Status: 503}) {
		t.Error("TransientError should be transient")
	}
	if IsTransient(&PermanentError{Status: 400}) {
		t.Error("PermanentError should not be transient")
	}
}
