package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/router"
	"github.com/chatp2p/chatp2p/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T, script string) (*Shell, *bytes.Buffer) {
	t.Helper()
	id, err := identity.New("alice", "g")
	require.NoError(t, err)
	local, err := identity.NewLocalPeer(id, 7000, 120)
	require.NoError(t, err)

	registry := session.NewSessionRegistry()
	log := logging.New("error")
	rtr := router.New(adapterSource{registry}, 3, log)

	out := &bytes.Buffer{}
	return New(local, registry, rtr, nil, log, strings.NewReader(script), out), out
}

type adapterSource struct{ reg *session.SessionRegistry }

func (a adapterSource) Get(id identity.PeerIdentity) (router.Sender, bool) {
	s, ok := a.reg.Get(id)
	if !ok {
		return nil, false
	}
	return s, true
}

func (a adapterSource) Snapshot() map[identity.PeerIdentity]router.Sender {
	out := make(map[identity.PeerIdentity]router.Sender)
	for id, s := range a.reg.Snapshot() {
		out[id] = s
	}
	return out
}

func TestShell_StatusAndPeers(t *testing.T) {
	sh, out := newTestShell(t, "status\npeers\nquit\n")
	require.NoError(t, sh.Run(context.Background()))

	output := out.String()
	assert.Contains(t, output, "alice@g")
	assert.Contains(t, output, "no active sessions")
}

func TestShell_UnknownCommand(t *testing.T) {
	sh, out := newTestShell(t, "bogus\nquit\n")
	require.NoError(t, sh.Run(context.Background()))
	assert.Contains(t, out.String(), "unknown command")
}

func TestShell_MsgNoSession(t *testing.T) {
	sh, out := newTestShell(t, "msg bob@g hello there\nquit\n")
	require.NoError(t, sh.Run(context.Background()))
	assert.Contains(t, out.String(), "not delivered")
}

func TestShell_LogLevel(t *testing.T) {
	sh, out := newTestShell(t, "log debug\nquit\n")
	require.NoError(t, sh.Run(context.Background()))
	assert.Contains(t, out.String(), "log level set to debug")
}
