// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth validates the requested identity against the remote store at
// startup, with a bounded wait and an offline fallback.
//
// The authenticator walks a small state machine:
//
//	UNSTARTED → CONNECTING → {VALIDATED | USER_NOT_FOUND | OFFLINE}
//
// Offline is a first-class success path: a connection timeout or network
// error yields Offline without surfacing an error. A username that matches
// no active account is the opposite — a fatal, user-visible failure that is
// never silently downgraded to offline, because an explicit identity was
// requested and rejected.
//
// The result gates which history scopes the scope router will honor.
package auth
