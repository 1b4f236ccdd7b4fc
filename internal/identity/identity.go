// Package identity defines the peer identity model: the canonical
// "name@namespace" that names a peer in the overlay, the local peer's
// registration state, and the transient records returned by discovery.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Field limits from the wire contract.
const (
	MaxNameLen      = 64
	MaxNamespaceLen = 64
	MinPort         = 1
	MaxPort         = 65535
	MinTTL          = 1
	MaxTTL          = 86400
)

var (
	ErrEmptyName       = errors.New("identity: name must not be empty")
	ErrEmptyNamespace  = errors.New("identity: namespace must not be empty")
	ErrNameTooLong     = errors.New("identity: name exceeds 64 characters")
	ErrNamespaceTooLong = errors.New("identity: namespace exceeds 64 characters")
	ErrInvalidPort     = errors.New("identity: port must be between 1 and 65535")
	ErrInvalidTTL      = errors.New("identity: ttl must be between 1 and 86400 seconds")
	ErrMalformedString = errors.New("identity: expected \"name@namespace\"")
)

// PeerIdentity is the immutable composite name that uniquely identifies a
// peer in the overlay. Its canonical string form is "name@namespace".
type PeerIdentity struct {
	Name      string
	Namespace string
}

// New validates and constructs a PeerIdentity.
func New(name, namespace string) (PeerIdentity, error) {
	id := PeerIdentity{Name: name, Namespace: namespace}
	if err := id.Validate(); err != nil {
		return PeerIdentity{}, err
	}
	return id, nil
}

// Validate checks the name/namespace length and emptiness invariants.
func (id PeerIdentity) Validate() error {
	if id.Name == "" {
		return ErrEmptyName
	}
	if len(id.Name) > MaxNameLen {
		return ErrNameTooLong
	}
	if id.Namespace == "" {
		return ErrEmptyNamespace
	}
	if len(id.Namespace) > MaxNamespaceLen {
		return ErrNamespaceTooLong
	}
	return nil
}

// String returns the canonical "name@namespace" form.
func (id PeerIdentity) String() string {
	return id.Name + "@" + id.Namespace
}

// IsZero reports whether this is the zero-value identity.
func (id PeerIdentity) IsZero() bool {
	return id.Name == "" && id.Namespace == ""
}

// Parse parses a canonical "name@namespace" string.
func Parse(s string) (PeerIdentity, error) {
	name, namespace, ok := strings.Cut(s, "@")
	if !ok {
		return PeerIdentity{}, ErrMalformedString
	}
	return New(name, namespace)
}

// RemotePeerRecord is a transient record returned by DISCOVER: a peer
// identity plus the address the rendezvous directory observed it at.
type RemotePeerRecord struct {
	Identity PeerIdentity
	IP       string
	Port     int
}

// Addr returns "ip:port" suitable for net.Dial.
func (r RemotePeerRecord) Addr() string {
	return fmt.Sprintf("%s:%d", r.IP, r.Port)
}

// LocalPeer is this process's own identity, listen port, requested and
// confirmed TTL, and the timestamp of the last successful registration.
// It is created once at setup and mutated only by successful registration
// responses.
type LocalPeer struct {
	mu sync.RWMutex

	identity     PeerIdentity
	listenPort   int
	requestedTTL int

	confirmedTTL  int
	registeredAt  time.Time
	everRegistered bool
}

// NewLocalPeer validates inputs and constructs a LocalPeer. It has not
// registered with the rendezvous directory yet.
func NewLocalPeer(id PeerIdentity, listenPort, requestedTTL int) (*LocalPeer, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if listenPort < MinPort || listenPort > MaxPort {
		return nil, ErrInvalidPort
	}
	if requestedTTL < MinTTL || requestedTTL > MaxTTL {
		return nil, ErrInvalidTTL
	}
	return &LocalPeer{
		identity:     id,
		listenPort:   listenPort,
		requestedTTL: requestedTTL,
	}, nil
}

// Identity returns the local peer's identity.
func (l *LocalPeer) Identity() PeerIdentity {
	return l.identity
}

// ListenPort returns the configured inbound listen port.
func (l *LocalPeer) ListenPort() int {
	return l.listenPort
}

// RequestedTTL returns the TTL requested at registration time.
func (l *LocalPeer) RequestedTTL() int {
	return l.requestedTTL
}

// OnRegistered records a successful REGISTER response: confirmed TTL and
// the registration timestamp.
func (l *LocalPeer) OnRegistered(confirmedTTL int, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmedTTL = confirmedTTL
	l.registeredAt = at
	l.everRegistered = true
}

// RegistrationState is a consistent snapshot of registration status.
type RegistrationState struct {
	Registered   bool
	ConfirmedTTL int
	RegisteredAt time.Time
}

// Snapshot returns the current registration state.
func (l *LocalPeer) Snapshot() RegistrationState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return RegistrationState{
		Registered:   l.everRegistered,
		ConfirmedTTL: l.confirmedTTL,
		RegisteredAt: l.registeredAt,
	}
}

// RemainingTTL returns how much of the confirmed TTL window is left as of
// now. It is only meaningful once Registered is true.
func (s RegistrationState) RemainingTTL(now time.Time) time.Duration {
	deadline := s.RegisteredAt.Add(time.Duration(s.ConfirmedTTL) * time.Second)
	return deadline.Sub(now)
}
