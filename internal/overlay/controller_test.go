package overlay

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/chatp2p/chatp2p/internal/config"
	"github.com/chatp2p/chatp2p/internal/history"
	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/rendezvous"
	"github.com/chatp2p/chatp2p/internal/router"
	"github.com/chatp2p/chatp2p/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRendezvous serves REGISTER with a fixed TTL and DISCOVER with a
// caller-supplied, mutable peer list, one connection at a time, mirroring
// the real server's one-command-per-connection contract.
func fakeRendezvous(t *testing.T, peers func() []map[string]any) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				var cmd map[string]any
				if json.Unmarshal([]byte(line[:len(line)-1]), &cmd) != nil {
					return
				}
				var resp map[string]any
				switch cmd["type"] {
				case "REGISTER":
					resp = map[string]any{"status": "OK", "ip": "127.0.0.1", "port": int(cmd["port"].(float64)), "ttl": 120}
				case "DISCOVER":
					resp = map[string]any{"status": "OK", "peers": peers()}
				default:
					resp = map[string]any{"status": "OK"}
				}
				encoded, _ := json.Marshal(resp)
				conn.Write(append(encoded, '\n'))
			}()
		}
	}()

	return ln.Addr().String()
}

func TestController_DiscoverAndDial(t *testing.T) {
	alice, err := identity.New("alice", "g")
	require.NoError(t, err)
	bob, err := identity.New("bob", "g")
	require.NoError(t, err)

	log := logging.New("error")

	// Bob's inbound side: a bare registry/router + listener, handshaking
	// through PeerServer.
	bobRegistry := session.NewSessionRegistry()
	bobRouter := router.New(nil, 3, log)
	bobLocal, err := identity.NewLocalPeer(bob, 7100, 120)
	require.NoError(t, err)

	bobServer := NewPeerServer(bobLocal, bobRegistry, bobRouter, config.NetworkConfig{ConnectionTimeout: time.Second, AckTimeout: time.Second, MaxMsgSize: 1 << 20}, log)
	require.NoError(t, bobServer.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bobServer.Serve(ctx)
	defer bobServer.Close()

	bobAddr := bobServer.Addr().(*net.TCPAddr)

	rzAddr := fakeRendezvous(t, func() []map[string]any {
		return []map[string]any{
			{"name": "bob", "namespace": "g", "ip": "127.0.0.1", "port": bobAddr.Port},
		}
	})

	aliceRegistry := session.NewSessionRegistry()
	aliceRouter := router.New(nil, 3, log)
	aliceLocal, err := identity.NewLocalPeer(alice, 7200, 120)
	require.NoError(t, err)

	rz := rendezvous.New(rzAddr, time.Second)

	ctrl := New(
		aliceLocal, aliceRegistry, aliceRouter, rz, nil,
		config.RendezvousConfig{DiscoverInterval: time.Hour, TTLWarningThreshold: 30 * time.Second, RegisterRetryAttempts: 3, RegisterBackoffBase: 10 * time.Millisecond},
		config.NetworkConfig{ConnectionTimeout: time.Second, AckTimeout: time.Second, MaxMsgSize: 1 << 20},
		config.PeerConnectionConfig{RetryAttempts: 3, BackoffBase: 10 * time.Millisecond},
		config.KeepaliveConfig{PingInterval: time.Minute, MaxPingFailures: 3},
		log,
	)

	require.NoError(t, ctrl.register(ctx))
	initiated := ctrl.discoverAndDial(ctx)
	require.Equal(t, 1, initiated)

	require.Eventually(t, func() bool { return aliceRegistry.Has(bob) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return bobRegistry.Has(alice) }, time.Second, 5*time.Millisecond)
}

func TestController_SeedFromHistoryPopulatesCandidates(t *testing.T) {
	store, err := history.Open("")
	require.NoError(t, err)
	defer store.Close()

	bob, err := identity.New("bob", "g")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.UpsertPeer(ctx, history.BootCacheEntry{
		Name: "bob", Namespace: "g", IP: "127.0.0.1", Port: 7100, LastSeen: time.Now(),
	}))

	id, err := identity.New("alice", "g")
	require.NoError(t, err)
	local, err := identity.NewLocalPeer(id, 7200, 120)
	require.NoError(t, err)

	log := logging.New("error")
	ctrl := New(
		local, session.NewSessionRegistry(), router.New(nil, 3, log), rendezvous.New("127.0.0.1:0", time.Second), store,
		config.RendezvousConfig{DiscoverInterval: time.Hour, TTLWarningThreshold: 30 * time.Second, RegisterRetryAttempts: 3, RegisterBackoffBase: 10 * time.Millisecond},
		config.NetworkConfig{ConnectionTimeout: time.Second, AckTimeout: time.Second, MaxMsgSize: 1 << 20},
		config.PeerConnectionConfig{RetryAttempts: 3, BackoffBase: 10 * time.Millisecond},
		config.KeepaliveConfig{PingInterval: time.Minute, MaxPingFailures: 3},
		log,
	)

	ctrl.seedFromHistory(ctx)

	record, ok := ctrl.candidates.Peek(bob)
	require.True(t, ok)
	assert.Equal(t, 7100, record.Port)
}

func TestController_DialOutcomesUpdateBootCache(t *testing.T) {
	store, err := history.Open("")
	require.NoError(t, err)
	defer store.Close()

	carol, err := identity.New("carol", "g")
	require.NoError(t, err)
	ctx := context.Background()

	id, err := identity.New("alice", "g")
	require.NoError(t, err)
	local, err := identity.NewLocalPeer(id, 7300, 120)
	require.NoError(t, err)

	log := logging.New("error")
	ctrl := New(
		local, session.NewSessionRegistry(), router.New(nil, 3, log), rendezvous.New("127.0.0.1:0", time.Second), store,
		config.RendezvousConfig{DiscoverInterval: time.Hour, TTLWarningThreshold: 30 * time.Second, RegisterRetryAttempts: 3, RegisterBackoffBase: 10 * time.Millisecond},
		config.NetworkConfig{ConnectionTimeout: time.Second, AckTimeout: time.Second, MaxMsgSize: 1 << 20},
		config.PeerConnectionConfig{RetryAttempts: 3, BackoffBase: 10 * time.Millisecond},
		config.KeepaliveConfig{PingInterval: time.Minute, MaxPingFailures: 3},
		log,
	)
	remote := identity.RemotePeerRecord{Identity: carol, IP: "127.0.0.1", Port: 7301}

	ctrl.markDialSucceeded(ctx, remote)
	entries, err := store.BootCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "carol", entries[0].Name)
	assert.Equal(t, 0, entries[0].FailCount)

	ctrl.markDialFailed(ctx, remote)
	entries, err = store.BootCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].FailCount)
}

func TestController_RunAndWaitStopOnCancel(t *testing.T) {
	log := logging.New("error")

	rzAddr := fakeRendezvous(t, func() []map[string]any { return nil })
	rz := rendezvous.New(rzAddr, time.Second)

	id, err := identity.New("alice", "g")
	require.NoError(t, err)
	local, err := identity.NewLocalPeer(id, 7300, 120)
	require.NoError(t, err)

	ctrl := New(
		local, session.NewSessionRegistry(), router.New(nil, 3, log), rz, nil,
		config.RendezvousConfig{DiscoverInterval: 5 * time.Millisecond, TTLWarningThreshold: 30 * time.Second, RegisterRetryAttempts: 3, RegisterBackoffBase: 10 * time.Millisecond},
		config.NetworkConfig{ConnectionTimeout: time.Second, AckTimeout: time.Second, MaxMsgSize: 1 << 20},
		config.PeerConnectionConfig{RetryAttempts: 3, BackoffBase: 10 * time.Millisecond},
		config.KeepaliveConfig{PingInterval: time.Minute, MaxPingFailures: 3},
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ctrl.Run(ctx))

	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		ctrl.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
}
