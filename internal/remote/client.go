// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/relay-tui/internal/model"
)

// Configuration constants for the remote store client.
const (
	// DefaultCallTimeout bounds each individual remote call. Background
	// sync calls must never block the foreground loop for long.
	DefaultCallTimeout = 10 * time.Second

	// DefaultPullLimit is the page size for change pulls.
	DefaultPullLimit = 200

	// MaxResponseSize caps response bodies to keep a misbehaving remote
	// from exhausting memory.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// sharedHTTPClient is shared by all remote store requests.
// Connection pooling avoids per-call TCP/TLS handshakes.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	// Per-call timeouts come from the request context.
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the remote history store.
type Client struct {
	baseURL     string
	token       string
	callTimeout time.Duration
	httpClient  *http.Client
}

// NewClient creates a remote store client. Returns ErrNotConfigured when
// either the URL or token is empty, so an offline-only setup is detected at
// construction rather than on first use.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" || token == "" {
		return nil, ErrNotConfigured
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		callTimeout: DefaultCallTimeout,
		httpClient:  sharedHTTPClient,
	}, nil
}

// SetCallTimeout overrides the per-call timeout. Runtime callers that need a
// tighter bound pass a deadline through the request context instead; this
// exists for tests.
func (c *Client) SetCallTimeout(d time.Duration) {
	if d > 0 {
		c.callTimeout = d
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// Ping verifies connectivity and credentials with a cheap request.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.doJSON(ctx, http.MethodGet, "/v1/ping", nil, &out)
}

// =============================================================================
// USERS & MACHINES
// =============================================================================

// LookupUser finds an active account by username. Zero matches returns
// ErrUserNotFound — a distinct outcome from any connectivity failure. A 404
// from the remote means the same thing as an empty result set; it must not
// surface as a generic permanent error, which callers would read as a
// connectivity problem.
func (c *Client) LookupUser(ctx context.Context, username string) (*model.User, error) {
	path := "/v1/users?active=true&username=" + url.QueryEscape(username)

	var out struct {
		Users []model.User `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		var pe *PermanentError
		if errors.As(err, &pe) && pe.Status == http.StatusNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if len(out.Users) == 0 {
		return nil, ErrUserNotFound
	}
	u := out.Users[0]
	return &u, nil
}

// RegisterMachine registers or refreshes this machine with the remote store.
func (c *Client) RegisterMachine(ctx context.Context, m model.Machine) error {
	body := struct {
		Hostname string `json:"hostname"`
	}{Hostname: m.Hostname}
	return c.doJSON(ctx, http.MethodPut, "/v1/machines/"+url.PathEscape(m.ID), body, nil)
}

// =============================================================================
// HISTORY
// =============================================================================

// UpsertRecord inserts or updates a record by uuid. The remote keys on uuid,
// so replaying the same upsert (crash after send, before ack) is harmless.
func (c *Client) UpsertRecord(ctx context.Context, table string, rec *model.HistoryRecord) error {
	path := "/v1/history/" + url.PathEscape(table) + "/" + url.PathEscape(rec.UUID)
	return c.doJSON(ctx, http.MethodPut, path, rec, nil)
}

// DeleteRecord removes a record by uuid. Idempotent: deleting an absent
// record succeeds.
func (c *Client) DeleteRecord(ctx context.Context, table, uuid string) error {
	path := "/v1/history/" + url.PathEscape(table) + "/" + url.PathEscape(uuid)
	err := c.doJSON(ctx, http.MethodDelete, path, nil, nil)
	var pe *PermanentError
	if errors.As(err, &pe) && pe.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// ChangeSet is one page of remote changes.
type ChangeSet struct {
	Records    []*model.HistoryRecord `json:"records"`
	NextCursor string                 `json:"next_cursor"`
}

// PullChanges fetches records changed since the cursor ("" = from the
// beginning). An empty page leaves NextCursor equal to the input cursor.
func (c *Client) PullChanges(ctx context.Context, table, cursor string, limit int) (*ChangeSet, error) {
	if limit <= 0 {
		limit = DefaultPullLimit
	}
	path := "/v1/history/" + url.PathEscape(table) + "/changes?limit=" + strconv.Itoa(limit)
	if cursor != "" {
		path += "&since=" + url.QueryEscape(cursor)
	}

	var out ChangeSet
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.NextCursor == "" {
		out.NextCursor = cursor
	}
	return &out, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// doJSON performs one JSON request/response round trip with the per-call
// timeout applied. Retry policy lives with the callers: the sync worker
// retries through the queue's persisted backoff state, and the authenticator
// treats a failure as the offline signal.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &PermanentError{Message: fmt.Sprintf("encode request: %v", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &PermanentError{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "relay/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s %s: %w", method, path, ErrConnectivityTimeout)
		}
		return &TransientError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return &TransientError{Message: fmt.Sprintf("read response: %v", err)}
	}

	if err := classifyStatus(resp.StatusCode, data); err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return &PermanentError{Status: resp.StatusCode,
				Message: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return &TransientError{Status: status, Message: errorMessage(body)}
	default:
		return &PermanentError{Status: status, Message: errorMessage(body)}
	}
}

// errorMessage extracts the error text from a response body, if any.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "no error detail"
	}
	return msg
}
