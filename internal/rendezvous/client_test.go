package rendezvous

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts exactly one connection, decodes one JSON command line
// and writes back a canned response line, mirroring the rendezvous
// server's one-command-per-connection contract without standing up the
// real server implementation (out of scope for this client's tests).
func fakeServer(t *testing.T, handler func(cmd map[string]any) map[string]any) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		var cmd map[string]any
		if err := json.Unmarshal([]byte(line[:len(line)-1]), &cmd); err != nil {
			return
		}
		resp := handler(cmd)
		encoded, _ := json.Marshal(resp)
		conn.Write(append(encoded, '\n'))
	}()

	return ln.Addr().String()
}

func TestClient_Register(t *testing.T) {
	addr := fakeServer(t, func(cmd map[string]any) map[string]any {
		assert.Equal(t, "REGISTER", cmd["type"])
		assert.Equal(t, "alice", cmd["name"])
		return map[string]any{"status": "OK", "ip": "9.9.9.9", "port": 7000, "ttl": 90}
	})

	c := New(addr, time.Second)
	resp, err := c.Register(context.Background(), RegisterRequest{PeerID: "alice@g", Name: "alice", Namespace: "g", Port: 7000, TTL: 120})
	require.NoError(t, err)
	assert.Equal(t, 90, resp.ConfirmedTTL)
	assert.Equal(t, "9.9.9.9", resp.ObservedIP)
}

func TestClient_Discover(t *testing.T) {
	addr := fakeServer(t, func(cmd map[string]any) map[string]any {
		assert.Equal(t, "DISCOVER", cmd["type"])
		return map[string]any{
			"status": "OK",
			"peers": []map[string]any{
				{"name": "bob", "namespace": "g", "ip": "5.6.7.8", "port": 7001},
			},
		}
	})

	c := New(addr, time.Second)
	resp, err := c.Discover(context.Background(), DiscoverRequest{Namespace: "g"})
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "bob", resp.Peers[0].Name)
	assert.Equal(t, "g", resp.Peers[0].Namespace)
}

func TestClient_ServerError(t *testing.T) {
	addr := fakeServer(t, func(cmd map[string]any) map[string]any {
		return map[string]any{"status": "ERROR", "message": "DUPLICATE_PEER", "details": "already registered"}
	})

	c := New(addr, time.Second)
	_, err := c.Register(context.Background(), RegisterRequest{PeerID: "alice@g", Name: "alice", Namespace: "g", Port: 7000, TTL: 120})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServer))
	assert.False(t, errors.Is(err, ErrConnection))
}

func TestClient_ConnectionError(t *testing.T) {
	c := New("127.0.0.1:1", 100*time.Millisecond)
	_, err := c.Discover(context.Background(), DiscoverRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestRegisterWithRetry_StopsOnServerError(t *testing.T) {
	attempts := 0
	addr := fakeServer(t, func(cmd map[string]any) map[string]any {
		attempts++
		return map[string]any{"status": "ERROR", "message": "BAD_REQUEST"}
	})

	c := New(addr, time.Second)
	_, err := c.RegisterWithRetry(context.Background(), RegisterRequest{PeerID: "a@g", Name: "a", Namespace: "g", Port: 1}, 5, time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServer))
	assert.Equal(t, 1, attempts)
}
