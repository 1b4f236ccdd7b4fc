package session

import (
	"sync"

	"github.com/chatp2p/chatp2p/internal/identity"
)

// SessionRegistry maps PeerIdentity to the one Session currently open for
// it. Grounded on the teacher's Overlay.peers map + mutex
// (internal/peermanagement/overlay.go), generalized to enforce the
// at-most-one-session-per-peer invariant explicitly rather than implicitly
// via a connect-time check.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[identity.PeerIdentity]*Session
}

// NewSessionRegistry builds an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[identity.PeerIdentity]*Session)}
}

// TryInsert inserts s under id if no session is currently registered for
// it, returning false without mutation if one already exists. This is the
// single enforcement point for "at most one session per peer": both the
// inbound-HELLO dedup check and the outbound-dial dedup check route
// through it.
func (r *SessionRegistry) TryInsert(id identity.PeerIdentity, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return false
	}
	r.sessions[id] = s
	return true
}

// Remove deletes the entry for id, but only if it still points at s — a
// session that lost the TryInsert race must not be allowed to evict the
// winner's entry when it tears itself down. Implements the Registry
// interface sessions call back into from Close.
func (r *SessionRegistry) Remove(id identity.PeerIdentity, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok && existing == s {
		delete(r.sessions, id)
	}
}

// Get returns the session for id, if any.
func (r *SessionRegistry) Get(id identity.PeerIdentity) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Has reports whether id currently has a session.
func (r *SessionRegistry) Has(id identity.PeerIdentity) bool {
	_, ok := r.Get(id)
	return ok
}

// Snapshot returns a copy of the current identity->session mapping,
// suitable for iteration without holding the registry lock during I/O —
// per the design notes' "take a snapshot under the lock, release before
// fan-out" policy.
func (r *SessionRegistry) Snapshot() map[identity.PeerIdentity]*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[identity.PeerIdentity]*Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// Count returns the number of active sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
