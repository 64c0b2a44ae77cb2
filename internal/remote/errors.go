// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error variables for common remote store failures.
var (
	// ErrNotConfigured indicates no remote URL/token is set. This is the
	// offline-only configuration, not a failure; callers check it to skip
	// network work entirely.
	ErrNotConfigured = errors.New("remote store not configured")

	// ErrUserNotFound indicates the username matched no active account.
	// Fatal for the requested session; never retried.
	ErrUserNotFound = errors.New("user not found")

	// ErrConnectivityTimeout indicates the remote store could not be
	// reached within the allotted time. Recoverable: callers fall back to
	// offline mode.
	ErrConnectivityTimeout = errors.New("remote store connection timed out")
)

// TransientError is a remote failure worth retrying: rate limiting, server
// errors, connection problems.
type TransientError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient remote error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("transient remote error: %s", e.Message)
}

// PermanentError is a remote failure that retrying cannot fix: schema
// mismatch, rejected payload, revoked credentials.
type PermanentError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("permanent remote error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("permanent remote error: %s", e.Message)
}

// IsTransient reports whether an error should be retried with backoff.
// Context cancellation is not retryable; everything network-shaped is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, ErrConnectivityTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
