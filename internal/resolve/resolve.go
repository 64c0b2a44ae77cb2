// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package resolve

import (
	"github.com/jeranaias/relay-tui/internal/model"
)

// Result holds the outcome of resolving one conflict.
type Result struct {
	Winner *model.HistoryRecord
	Loser  *model.HistoryRecord
}

// Resolve picks the surviving version of two records sharing a uuid.
//
// Order of comparison:
//  1. later updated_at wins (millisecond resolution)
//  2. lexicographically greater machine_id wins
//  3. lexicographically greater uuid wins
//
// Clock skew between machines is not corrected for; the tie-break chain is
// the documented behavior, covered by tests, rather than an assumption that
// clocks agree.
func Resolve(local, remote *model.HistoryRecord) Result {
	if local == nil {
		return Result{Winner: remote}
	}
	if remote == nil {
		return Result{Winner: local}
	}

	if wins(local, remote) {
		return Result{Winner: local, Loser: remote}
	}
	return Result{Winner: remote, Loser: local}
}

// wins reports whether a beats b under the comparison chain. Strictly
// ordered for any two distinct versions, which is what makes Resolve
// commutative.
func wins(a, b *model.HistoryRecord) bool {
	am, bm := a.UpdatedAt.UnixMilli(), b.UpdatedAt.UnixMilli()
	if am != bm {
		return am > bm
	}
	if a.MachineID != b.MachineID {
		return a.MachineID > b.MachineID
	}
	if a.UUID != b.UUID {
		return a.UUID > b.UUID
	}
	// Two versions in one conflict share a uuid, so fully identical stamps
	// can reach this point (one writer producing two versions inside a
	// millisecond). Order on content so both sides pick the same winner.
	if a.Status != b.Status {
		return a.Status > b.Status
	}
	if a.Response != b.Response {
		return a.Response > b.Response
	}
	return a.Command > b.Command
}
