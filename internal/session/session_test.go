package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRouter struct {
	mu  sync.Mutex
	got []wire.Message
}

func (r *recordingRouter) ProcessIncoming(msg wire.Message, from identity.PeerIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
}

func (r *recordingRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type recordingRegistry struct {
	mu       sync.Mutex
	removed  []identity.PeerIdentity
}

func (r *recordingRegistry) Remove(id identity.PeerIdentity, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func testConfig() Config {
	return Config{HandshakeTimeout: time.Second, SteadyTimeout: 5 * time.Second, MaxMsgSize: wire.MaxMessageSize}
}

func newTestPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestSession_HandshakeAndSend(t *testing.T) {
	connA, connB := newTestPair(t)

	alice, _ := identity.New("alice", "g")
	bob, _ := identity.New("bob", "g")

	log := logging.New("error")
	routerA := &recordingRouter{}
	routerB := &recordingRouter{}
	regA := &recordingRegistry{}
	regB := &recordingRegistry{}

	sA := New(connA, true, testConfig(), routerA, regA, log)
	sB := New(connB, false, testConfig(), routerB, regB, log)

	var wg sync.WaitGroup
	wg.Add(2)

	var handshakeErrA, handshakeErrB error
	go func() {
		defer wg.Done()
		handshakeErrA = sA.DialHandshake(context.Background(), alice, bob)
	}()
	go func() {
		defer wg.Done()
		remote, err := sB.AcceptHandshake(context.Background())
		if err != nil {
			handshakeErrB = err
			return
		}
		handshakeErrB = sB.CompleteAccept(bob, remote)
	}()
	wg.Wait()

	require.NoError(t, handshakeErrA)
	require.NoError(t, handshakeErrB)
	assert.Equal(t, bob, sA.Identity())
	assert.Equal(t, alice, sB.Identity())

	sA.Run(context.Background())
	sB.Run(context.Background())

	err := sA.Send(wire.Message{Type: wire.TypeSend, TTL: wire.WireTTL, MsgID: "m1", Src: "alice@g", Dst: "bob@g", Payload: "hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return routerB.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hi", routerB.got[0].Payload)

	sA.Close()
	sB.Close()

	require.Eventually(t, func() bool { return sA.State() == Closed }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sB.State() == Closed }, time.Second, 5*time.Millisecond)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	connA, _ := newTestPair(t)
	log := logging.New("error")
	reg := &recordingRegistry{}
	s := New(connA, true, testConfig(), nil, reg, log)

	s.Close()
	s.Close()
	s.Close()

	assert.Equal(t, Closed, s.State())
}

func TestSession_PingPong(t *testing.T) {
	connA, connB := newTestPair(t)
	log := logging.New("error")

	alice, _ := identity.New("alice", "g")
	bob, _ := identity.New("bob", "g")

	sA := New(connA, true, testConfig(), &recordingRouter{}, &recordingRegistry{}, log)
	sB := New(connB, false, testConfig(), &recordingRouter{}, &recordingRegistry{}, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = sA.DialHandshake(context.Background(), alice, bob) }()
	go func() {
		defer wg.Done()
		remote, err := sB.AcceptHandshake(context.Background())
		require.NoError(t, err)
		require.NoError(t, sB.CompleteAccept(bob, remote))
	}()
	wg.Wait()

	sA.Run(context.Background())
	sB.Run(context.Background())
	defer sA.Close()
	defer sB.Close()

	require.NoError(t, sA.Send(wire.Message{Type: wire.TypePing, TTL: wire.WireTTL, MsgID: "p1", Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}))

	// B's reader auto-replies PONG; nothing observable on B's router since
	// PING/PONG never reach ProcessIncoming. Just assert no panic/deadlock
	// by waiting briefly for the exchange.
	time.Sleep(50 * time.Millisecond)
}
