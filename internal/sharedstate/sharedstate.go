// Package sharedstate holds the one instance of process-wide mutable state
// built at startup and injected into every component: the session
// registry, the local peer's identity, and the configuration tree.
// Grounded on the teacher's Overlay struct (internal/peermanagement/
// overlay.go), which bundles the same categories of state (peer map,
// identity, config) behind one lock; generalized here into a standalone
// type so session, router and overlay each depend on a narrow adapter
// instead of importing one another directly, per the design notes'
// requirement to break the Session<->Router<->SharedState cycle.
package sharedstate

import (
	"sync"

	"github.com/chatp2p/chatp2p/internal/config"
	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/router"
	"github.com/chatp2p/chatp2p/internal/session"
)

// SharedState is the single process-wide instance of mutable shared state.
type SharedState struct {
	mu sync.RWMutex

	registry *session.SessionRegistry
	local    *identity.LocalPeer
	cfg      *config.Config
}

// New builds a SharedState instance from the process configuration and
// local peer.
func New(cfg *config.Config, local *identity.LocalPeer) *SharedState {
	return &SharedState{
		registry: session.NewSessionRegistry(),
		local:    local,
		cfg:      cfg,
	}
}

// Registry returns the session registry.
func (s *SharedState) Registry() *session.SessionRegistry {
	return s.registry
}

// LocalPeer returns this process's own peer state.
func (s *SharedState) LocalPeer() *identity.LocalPeer {
	return s.local
}

// Config returns the configuration tree loaded at startup.
func (s *SharedState) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig replaces the configuration tree at runtime.
func (s *SharedState) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// RouterSource adapts the SessionRegistry to router.SessionSource, so the
// router can look up and snapshot sessions without importing the session
// package's concrete type, and the session package never imports router.
type RouterSource struct {
	registry *session.SessionRegistry
}

// NewRouterSource wraps reg for use as a router.SessionSource.
func NewRouterSource(reg *session.SessionRegistry) *RouterSource {
	return &RouterSource{registry: reg}
}

// Get implements router.SessionSource.
func (a *RouterSource) Get(id identity.PeerIdentity) (router.Sender, bool) {
	s, ok := a.registry.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// Snapshot implements router.SessionSource.
func (a *RouterSource) Snapshot() map[identity.PeerIdentity]router.Sender {
	snap := a.registry.Snapshot()
	out := make(map[identity.PeerIdentity]router.Sender, len(snap))
	for id, s := range snap {
		out[id] = s
	}
	return out
}
