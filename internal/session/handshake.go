package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/wire"
)

// setIdentity records the remote peer's identity once the handshake
// confirms it. Called exactly once, before Run.
func (s *Session) setIdentity(id identity.PeerIdentity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// DialHandshake runs the initiator side of the handshake: send HELLO,
// receive HELLO_OK within the handshake deadline. local is this process's
// own identity, sent in the HELLO.
func (s *Session) DialHandshake(ctx context.Context, local identity.PeerIdentity, remote identity.PeerIdentity) error {
	if err := s.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %v", ErrHandshakeFailed, err)
	}
	defer s.conn.SetDeadline(time.Time{})

	if err := s.writeFrame(wire.Hello(local.String(), false)); err != nil {
		return fmt.Errorf("%w: send HELLO: %v", ErrHandshakeFailed, err)
	}

	reader := wire.NewFrameReader(s.conn)
	msg, err := s.readFrame(reader)
	if err != nil {
		return fmt.Errorf("%w: receive HELLO_OK: %v", ErrHandshakeFailed, err)
	}
	if msg.Type != wire.TypeHelloOK {
		return fmt.Errorf("%w: expected HELLO_OK, got %s", ErrHandshakeFailed, msg.Type)
	}

	s.setIdentity(remote)
	return nil
}

// AcceptHandshake runs the first half of the receiver side: receive and
// validate HELLO (CompleteAccept sends the HELLO_OK reply). It returns the
// parsed remote identity so the caller can consult the
// SessionRegistry before this session is allowed to proceed — the registry
// check happens outside this function, per spec §4.5's ordering (receive
// HELLO, THEN consult the registry, THEN reply).
func (s *Session) AcceptHandshake(ctx context.Context) (identity.PeerIdentity, error) {
	if err := s.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return identity.PeerIdentity{}, fmt.Errorf("%w: set deadline: %v", ErrHandshakeFailed, err)
	}
	defer s.conn.SetDeadline(time.Time{})

	reader := wire.NewFrameReader(s.conn)
	msg, err := s.readFrame(reader)
	if err != nil {
		return identity.PeerIdentity{}, fmt.Errorf("%w: receive HELLO: %v", ErrHandshakeFailed, err)
	}
	if msg.Type != wire.TypeHello || msg.PeerID == "" {
		return identity.PeerIdentity{}, fmt.Errorf("%w: expected well-formed HELLO, got %s", ErrHandshakeFailed, msg.Type)
	}

	remote, err := identity.Parse(msg.PeerID)
	if err != nil {
		return identity.PeerIdentity{}, fmt.Errorf("%w: malformed peer_id %q: %v", ErrHandshakeFailed, msg.PeerID, err)
	}

	return remote, nil
}

// CompleteAccept replies HELLO_OK and records the confirmed identity. Call
// only after the caller has verified the registry does not already hold
// this identity.
func (s *Session) CompleteAccept(local identity.PeerIdentity, remote identity.PeerIdentity) error {
	if err := s.writeFrame(wire.Hello(local.String(), true)); err != nil {
		return fmt.Errorf("%w: send HELLO_OK: %v", ErrHandshakeFailed, err)
	}
	s.setIdentity(remote)
	return nil
}
