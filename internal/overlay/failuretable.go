package overlay

import (
	"sync"
	"time"

	"github.com/chatp2p/chatp2p/internal/identity"
)

// maxBackoffMinutes caps the per-peer dial backoff at 30 minutes, per spec §4.6.
const maxBackoffMinutes = 30

// failureRecord tracks one peer's consecutive dial-failure streak. The
// backoff deadline is always relative to lastFailure, not the start of the
// streak — otherwise the deadline would stop advancing once backoffFor
// saturates at its 30-minute cap, and a permanently offline peer would
// eventually be dialed on every tick with no backoff at all.
type failureRecord struct {
	lastFailure time.Time
	attempts    int
}

// FailureTable is the per-peer exponential backoff table the discovery
// loop consults before dialing a candidate. Grounded on the teacher's
// BootCache (internal/peermanagement/discovery.go), which tracks a
// per-address FailCount/LastFailed pair; generalized here to the
// min(2^(attempts-1), 30)-minute formula spec §4.6 requires and keyed by
// PeerIdentity instead of a bare address string. Its own lock is never
// held across I/O — callers check CanDialNow, release, then dial.
type FailureTable struct {
	mu      sync.Mutex
	records map[identity.PeerIdentity]*failureRecord
}

// NewFailureTable builds an empty table.
func NewFailureTable() *FailureTable {
	return &FailureTable{records: make(map[identity.PeerIdentity]*failureRecord)}
}

// RecordFailure increments the attempt count for id, starting a new streak
// if none is active.
func (t *FailureTable) RecordFailure(id identity.PeerIdentity, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		rec = &failureRecord{}
		t.records[id] = rec
	}
	rec.attempts++
	rec.lastFailure = at
}

// RecordSuccess clears any failure streak for id, so a future failure
// starts counting from attempt 1 again.
func (t *FailureTable) RecordSuccess(id identity.PeerIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

// Clear drops every failure streak, used by the forced reconcile
// operation so a manual "reconnect" ignores standing backoff.
func (t *FailureTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[identity.PeerIdentity]*failureRecord)
}

// CanDialNow reports whether id's backoff window has elapsed as of now. A
// peer with no failure record can always be dialed.
func (t *FailureTable) CanDialNow(id identity.PeerIdentity, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return true
	}
	return now.After(rec.lastFailure.Add(backoffFor(rec.attempts)))
}

// backoffFor returns the wait duration after attempts consecutive
// failures: min(2^(attempts-1), 30) minutes, the first failure yielding 1
// minute.
func backoffFor(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	minutes := 1 << uint(attempts-1)
	if minutes > maxBackoffMinutes || minutes <= 0 {
		minutes = maxBackoffMinutes
	}
	return time.Duration(minutes) * time.Minute
}
