// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package resolve decides the winning version when two machines updated the
// same history record.
//
// Resolution is last-write-wins by updated_at, with deterministic tie-breaks
// (machine id, then uuid) at equal timestamps. The function is commutative:
// resolve(a, b) and resolve(b, a) pick the same winner, so every machine
// converges on the same record no matter which one observes the conflict
// first. The loser is returned alongside the winner so callers can keep it as
// an audit trail; it must never be re-applied.
package resolve
