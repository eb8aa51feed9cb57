// Package reqtable implements the Request Table (spec.md §4.4): the three
// maps — in_flight, retrying, tombstones — that track every outstanding
// request submitted by a caller. A request ID lives in at most one of the
// three at a time (invariant 3); transitions are single-direction
// (retrying -> in_flight | tombstoned; in_flight -> tombstoned).
//
// Table is exclusively owned by the core's single event-loop goroutine, so
// unlike the teacher's SessionPool it carries no mutex: the single-owner
// actor model (spec.md §4.6) is the synchronization strategy.
//
// Grounded on the map-plus-lazy-expiry shape of the teacher's
// session.SessionPool (internal/session/pool.go) and the attempt-counting
// retry entry of internal/worker/retry_client.go, generalized from
// session-pool reuse semantics to request/response correlation.
package reqtable

import (
	"time"

	"github.com/bc-dunia/mcpcore/internal/mcperr"
)

// Reply is delivered to a CallerHandle exactly once, fulfilling invariant 2.
type Reply struct {
	Result []byte
	Err    *mcperr.Error
}

// CallerHandle is the one-shot channel a blocked caller waits on.
type CallerHandle chan<- Reply

// RequestEntry tracks an in-flight request awaiting a response.
type RequestEntry struct {
	Caller    CallerHandle
	Method    string
	StartedAt time.Time
	Timeout   time.Duration
	CorrID    int64
}

// RetryEntry tracks a request whose first send attempt returned BUSY and
// which is waiting for its retry-delay timer.
type RetryEntry struct {
	Frame     []byte
	Caller    CallerHandle
	Method    string
	StartedAt time.Time
	Timeout   time.Duration
	Attempts  int
}

// Table holds the three request maps, keyed by integer request ID.
type Table struct {
	inFlight   map[int64]*RequestEntry
	retrying   map[int64]*RetryEntry
	tombstones map[int64]time.Time // value = expiry instant
}

// New builds an empty Table.
func New() *Table {
	return &Table{
		inFlight:   make(map[int64]*RequestEntry),
		retrying:   make(map[int64]*RetryEntry),
		tombstones: make(map[int64]time.Time),
	}
}

// InsertInFlight records a request whose first send attempt succeeded.
func (t *Table) InsertInFlight(id int64, entry *RequestEntry) {
	t.inFlight[id] = entry
}

// InsertRetry records a request whose first send attempt returned BUSY.
func (t *Table) InsertRetry(id int64, entry *RetryEntry) {
	t.retrying[id] = entry
}

// Promote moves a retrying entry to in_flight after a successful retry
// send, using the entry's own stored timeout (not the default) for the new
// request entry's Timeout field — spec.md's "updates the timeout timer
// using the entry's stored timeout_ms" invariant (P4).
func (t *Table) Promote(id int64) (*RequestEntry, bool) {
	retry, ok := t.retrying[id]
	if !ok {
		return nil, false
	}
	delete(t.retrying, id)

	entry := &RequestEntry{
		Caller:    retry.Caller,
		Method:    retry.Method,
		StartedAt: retry.StartedAt,
		Timeout:   retry.Timeout,
		CorrID:    id,
	}
	t.inFlight[id] = entry
	return entry, true
}

// TakeInFlight removes and returns the in_flight entry for id, if present.
// Used on response receipt and on timeout firing.
func (t *Table) TakeInFlight(id int64) (*RequestEntry, bool) {
	entry, ok := t.inFlight[id]
	if !ok {
		return nil, false
	}
	delete(t.inFlight, id)
	return entry, true
}

// TakeRetry removes and returns the retrying entry for id, if present. Used
// when a retry tick fires and the core re-attempts the send.
func (t *Table) TakeRetry(id int64) (*RetryEntry, bool) {
	entry, ok := t.retrying[id]
	if !ok {
		return nil, false
	}
	delete(t.retrying, id)
	return entry, true
}

// PeekRetry returns the retrying entry for id without removing it, for
// attempt-count inspection ahead of a retry decision.
func (t *Table) PeekRetry(id int64) (*RetryEntry, bool) {
	entry, ok := t.retrying[id]
	return entry, ok
}

// Tombstone removes id from both in_flight and retrying, if present, and
// records a tombstone with the given time-to-live.
func (t *Table) Tombstone(id int64, ttl time.Duration) {
	delete(t.inFlight, id)
	delete(t.retrying, id)
	t.tombstones[id] = time.Now().Add(ttl)
}

// IsTombstoned reports whether id is tombstoned, lazily evicting it first
// if its TTL has already elapsed.
func (t *Table) IsTombstoned(id int64) bool {
	expiry, ok := t.tombstones[id]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(t.tombstones, id)
		return false
	}
	return true
}

// Sweep drops every expired tombstone and returns how many were removed.
// Called on the periodic FSM-scoped sweep tick.
func (t *Table) Sweep() int {
	now := time.Now()
	removed := 0
	for id, expiry := range t.tombstones {
		if now.After(expiry) {
			delete(t.tombstones, id)
			removed++
		}
	}
	return removed
}

// Drained pairs a failed caller with the error it should be fulfilled with
// and the request ID it was filed under, so the core can tombstone that id
// after fulfilling the caller. Method and StartedAt are carried through so
// the core can also record the request's terminal telemetry.
type Drained struct {
	ID        int64
	Caller    CallerHandle
	Err       *mcperr.Error
	Method    string
	StartedAt time.Time
}

// Drain removes every in_flight and retrying entry, returning one Drained
// per removed caller so the core can fulfill each at-most-once. Tombstones
// are left untouched: a drain does not itself resolve the request IDs it
// empties, callers are expected to tombstone each returned id with
// Tombstone after fulfilling it, matching spec.md's S4/S5 scenarios (drain
// then BACKOFF).
func (t *Table) Drain(reason *mcperr.Error) []Drained {
	out := make([]Drained, 0, len(t.inFlight)+len(t.retrying))
	for id, entry := range t.inFlight {
		out = append(out, Drained{ID: id, Caller: entry.Caller, Err: reason, Method: entry.Method, StartedAt: entry.StartedAt})
		delete(t.inFlight, id)
	}
	for id, entry := range t.retrying {
		out = append(out, Drained{ID: id, Caller: entry.Caller, Err: reason, Method: entry.Method, StartedAt: entry.StartedAt})
		delete(t.retrying, id)
	}
	return out
}

// Len reports the number of entries in each map, for tests and metrics.
func (t *Table) Len() (inFlight, retrying, tombstones int) {
	return len(t.inFlight), len(t.retrying), len(t.tombstones)
}
