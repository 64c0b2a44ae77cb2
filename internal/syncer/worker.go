// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/relay-tui/internal/audit"
	"github.com/jeranaias/relay-tui/internal/auth"
	"github.com/jeranaias/relay-tui/internal/config"
	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/remote"
	"github.com/jeranaias/relay-tui/internal/resolve"
	"github.com/jeranaias/relay-tui/internal/storage"
)

// peekWindow is how many queue heads a drain pass claims at once. One entry
// per record uuid, so this also caps the fan-out of a single pass.
const peekWindow = 64

// =============================================================================
// WORKER
// =============================================================================

// Worker is the background sync loop. Create with New, then Start. The
// zero value is not usable.
type Worker struct {
	cache    *storage.Cache
	client   *remote.Client
	session  auth.Result
	auditLog *audit.Logger // nil-safe
	cfg      config.SyncConfig
	limiter  *rate.Limiter

	trigger chan struct{}
	stop    chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup

	cycleMu sync.Mutex // one sync cycle at a time
}

// New creates a worker. client may be nil (offline session); Start is then
// a no-op and Stop returns immediately.
func New(cache *storage.Cache, client *remote.Client, session auth.Result, auditLog *audit.Logger, cfg config.SyncConfig) *Worker {
	ratePerSec := cfg.DispatchRatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	return &Worker{
		cache:    cache,
		client:   client,
		session:  session,
		auditLog: auditLog,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start begins the cycle loop in a goroutine.
func (w *Worker) Start() {
	if w.client == nil || !w.session.Online() {
		return
	}
	w.wg.Add(1)
	go w.loop()
}

// Trigger requests a sync cycle outside the regular interval. Non-blocking;
// a cycle already requested absorbs further triggers.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Stop shuts the loop down, waits for an in-flight cycle, then runs one
// final drain bounded by the configured drain timeout. Entries still
// pending after the budget stay in the queue for the next session.
func (w *Worker) Stop() {
	if w.stopped.Swap(true) {
		return
	}
	close(w.stop)
	w.wg.Wait()

	if w.client == nil || !w.session.Online() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout())
	defer cancel()
	if err := w.drain(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("syncer: final drain: %v", err)
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.SyncInterval())
	defer ticker.Stop()

	// Initial cycle so a fresh session converges without waiting a full
	// interval.
	w.runCycle(context.Background())

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.runCycle(context.Background())
		case <-w.trigger:
			w.runCycle(context.Background())
		}
	}
}

// =============================================================================
// CYCLE
// =============================================================================

// runCycle executes one drain+pull cycle. Failures are recorded in sync
// metadata and surface through Status; the loop itself never dies.
func (w *Worker) runCycle(ctx context.Context) {
	w.cycleMu.Lock()
	defer w.cycleMu.Unlock()

	drainErr := w.drain(ctx)
	pullErr := w.pull(ctx)

	switch {
	case drainErr != nil:
		w.recordError(drainErr)
	case pullErr != nil:
		w.recordError(pullErr)
	default:
		if err := w.cache.SetLastSync(time.Now()); err != nil {
			log.Printf("syncer: record last sync: %v", err)
		}
		// A clean cycle clears the error marker unless dead letters
		// remain; those stay visible until the operator resets them.
		dead, err := w.cache.DeadLetters()
		if err == nil && len(dead) == 0 {
			if err := w.cache.ClearLastError(); err != nil {
				log.Printf("syncer: clear last error: %v", err)
			}
		}
	}
}

func (w *Worker) recordError(err error) {
	log.Printf("syncer: cycle: %v", err)
	if serr := w.cache.SetLastError(err.Error()); serr != nil {
		log.Printf("syncer: record last error: %v", serr)
	}
}

// =============================================================================
// DRAIN
// =============================================================================

// drain pushes ready queue entries until none remain. Each pass claims at
// most one entry per record (the head of that record's line) and dispatches
// the claimed entries in parallel; a record's next entry becomes visible only
// after the head is acknowledged, which preserves per-record order.
func (w *Worker) drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := w.cache.PeekBatch(peekWindow)
		if err != nil {
			return fmt.Errorf("peek sync queue: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		sem := make(chan struct{}, w.concurrency())
		var wg sync.WaitGroup
		var progressed atomic.Int64

		for _, entry := range batch {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			}
			wg.Add(1)
			go func(e *model.SyncQueueEntry) {
				defer wg.Done()
				defer func() { <-sem }()
				if w.dispatch(ctx, e) {
					progressed.Add(1)
				}
			}(entry)
		}
		wg.Wait()

		// Every claimed entry failed; the whole batch is now backing
		// off, so looping again would spin until the earliest
		// next_attempt_at. Leave the rest to the next cycle.
		if progressed.Load() == 0 {
			return nil
		}
	}
}

func (w *Worker) concurrency() int {
	if w.cfg.DispatchConcurrency > 0 {
		return w.cfg.DispatchConcurrency
	}
	return 4
}

// dispatch sends one entry to the remote store and settles its queue state.
// Returns true when the entry was acknowledged and removed.
func (w *Worker) dispatch(ctx context.Context, entry *model.SyncQueueEntry) bool {
	if err := w.limiter.Wait(ctx); err != nil {
		return false
	}

	err := w.send(ctx, entry)
	if err == nil {
		w.ack(entry)
		return true
	}

	msg := err.Error()
	if remote.IsTransient(err) {
		state, ferr := w.cache.Fail(entry.SequenceID, msg, w.cfg.MaxRetries)
		if ferr != nil {
			log.Printf("syncer: record dispatch failure for %s: %v", entry.RecordUUID, ferr)
			return false
		}
		if state == model.EntryFailed {
			w.deadLetter(entry, msg)
		}
		return false
	}

	// Permanent rejection: no amount of retrying helps.
	if ferr := w.cache.FailPermanent(entry.SequenceID, msg); ferr != nil {
		log.Printf("syncer: dead-letter %s: %v", entry.RecordUUID, ferr)
		return false
	}
	w.deadLetter(entry, msg)
	return false
}

// send performs the remote call for one entry.
func (w *Worker) send(ctx context.Context, entry *model.SyncQueueEntry) error {
	if entry.Operation == model.OpDelete {
		return w.client.DeleteRecord(ctx, entry.TargetTable, entry.RecordUUID)
	}

	var rec model.HistoryRecord
	if err := json.Unmarshal(entry.Payload, &rec); err != nil {
		// Malformed payload cannot succeed on retry.
		return &remote.PermanentError{Message: fmt.Sprintf("undecodable queue payload: %v", err)}
	}
	return w.client.UpsertRecord(ctx, entry.TargetTable, &rec)
}

// ack removes an acknowledged entry and, once the record's line is empty,
// promotes the record to synced.
func (w *Worker) ack(entry *model.SyncQueueEntry) {
	unlock := w.cache.LockRecord(entry.RecordUUID)
	defer unlock()

	if err := w.cache.Ack(entry.SequenceID); err != nil {
		log.Printf("syncer: ack %d: %v", entry.SequenceID, err)
		return
	}
	pending, err := w.cache.HasPending(entry.RecordUUID)
	if err != nil {
		log.Printf("syncer: check pending for %s: %v", entry.RecordUUID, err)
		return
	}
	if !pending {
		if err := w.cache.MarkSyncStatus(entry.RecordUUID, model.SyncSynced, ""); err != nil {
			log.Printf("syncer: mark synced %s: %v", entry.RecordUUID, err)
		}
	}
}

// deadLetter records an entry that will never be retried automatically.
func (w *Worker) deadLetter(entry *model.SyncQueueEntry, msg string) {
	log.Printf("syncer: dead letter seq=%d record=%s: %s", entry.SequenceID, entry.RecordUUID, msg)
	w.auditLog.LogDeadLetter(entry)
	if err := w.cache.MarkSyncStatus(entry.RecordUUID, model.SyncFailed, msg); err != nil {
		log.Printf("syncer: mark failed %s: %v", entry.RecordUUID, err)
	}
	if err := w.cache.SetLastError(msg); err != nil {
		log.Printf("syncer: record last error: %v", err)
	}
}

// =============================================================================
// PULL
// =============================================================================

// pull fetches remote changes for every synced table and reconciles them
// locally. The per-table cursor advances only after a page has been applied
// in full, so a failed pull repeats the same page next cycle.
func (w *Worker) pull(ctx context.Context) error {
	for _, table := range storage.SyncedTables {
		// User history exists remotely only for a bound identity.
		if table == storage.TableUser && w.session.Mode != auth.ModeValidated {
			continue
		}
		if err := w.pullTable(ctx, table); err != nil {
			return fmt.Errorf("pull %s: %w", table, err)
		}
	}
	return nil
}

func (w *Worker) pullTable(ctx context.Context, table string) error {
	cursor, err := w.cache.Cursor(table)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs, err := w.client.PullChanges(ctx, table, cursor, remote.DefaultPullLimit)
		if err != nil {
			return err
		}
		for _, rec := range cs.Records {
			if err := w.applyChange(table, rec); err != nil {
				return err
			}
		}
		if cs.NextCursor == cursor || len(cs.Records) == 0 {
			return nil
		}
		cursor = cs.NextCursor
		if err := w.cache.SetCursor(table, cursor); err != nil {
			return err
		}
	}
}

// applyChange reconciles one remote record against the local copy.
func (w *Worker) applyChange(table string, rec *model.HistoryRecord) error {
	scope, err := storage.ScopeForTable(table)
	if err != nil {
		return err
	}
	rec.Scope = scope

	unlock := w.cache.LockRecord(rec.UUID)
	defer unlock()

	local, err := w.cache.GetFromTable(table, rec.UUID)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return err
	}

	// Echo of a version this machine already holds: nothing to resolve.
	if local != nil && sameVersion(local, rec) {
		return nil
	}

	res := resolve.Resolve(local, rec)
	if res.Winner == rec {
		if res.Loser != nil {
			// The local version lost. Its still-queued mutations would
			// re-apply it, so they go to the audit trail instead of the
			// wire.
			w.auditLog.LogConflictLoser(res.Loser)
			if err := w.cache.DropPending(rec.UUID); err != nil {
				return err
			}
		}
		return w.cache.ApplyRemote(rec)
	}

	// The local version won. Record the losing remote copy, and make sure
	// the winner is on its way out so both sides converge on it.
	w.auditLog.LogConflictLoser(res.Loser)
	pending, err := w.cache.HasPending(rec.UUID)
	if err != nil {
		return err
	}
	if !pending {
		payload, err := json.Marshal(local)
		if err != nil {
			return err
		}
		if err := w.cache.Enqueue(model.OpUpdate, table, rec.UUID, payload); err != nil {
			return err
		}
	}
	return w.cache.MarkSyncStatus(rec.UUID, model.SyncConflict, "")
}

func sameVersion(a, b *model.HistoryRecord) bool {
	return a.UpdatedAt.UnixMilli() == b.UpdatedAt.UnixMilli() && a.MachineID == b.MachineID
}

// =============================================================================
// STATUS
// =============================================================================

// Status is a point-in-time summary of sync health.
type Status struct {
	Pending     int       `json:"pending"`
	DeadLetters int       `json:"dead_letters"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	LastError   string    `json:"last_error,omitempty"`
	Online      bool      `json:"online"`
}

// Status reports queue depth, dead letters, and the last cycle outcome.
func (w *Worker) Status() (Status, error) {
	st := Status{Online: w.client != nil && w.session.Online()}

	pending, err := w.cache.PendingCount()
	if err != nil {
		return st, err
	}
	st.Pending = pending

	dead, err := w.cache.DeadLetters()
	if err != nil {
		return st, err
	}
	st.DeadLetters = len(dead)

	if st.LastSyncAt, err = w.cache.LastSync(); err != nil {
		return st, err
	}
	if st.LastError, err = w.cache.LastError(); err != nil {
		return st, err
	}
	return st, nil
}
