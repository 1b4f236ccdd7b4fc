package overlay

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/chatp2p/chatp2p/internal/config"
	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/router"
	"github.com/chatp2p/chatp2p/internal/session"
)

// PeerServer accepts inbound peer connections, performs the receiver
// handshake, consults the session registry for the at-most-one-session
// invariant, and hands the resulting session to Run. Grounded on the
// teacher's Overlay.acceptLoop/handleInbound
// (internal/peermanagement/overlay.go), generalized from a TLS accept loop
// performing a crypto handshake to a plain-TCP accept loop performing the
// HELLO/HELLO_OK exchange, per spec §4.5's required ordering: read HELLO,
// THEN consult the registry, THEN reply.
type PeerServer struct {
	local    *identity.LocalPeer
	registry *session.SessionRegistry
	router   *router.Router
	log      *logging.Logger

	netCfg config.NetworkConfig

	listener net.Listener
	wg       sync.WaitGroup
}

// NewPeerServer builds an unbound server; Listen binds it to an address
// ("host:port" or ":port").
func NewPeerServer(local *identity.LocalPeer, registry *session.SessionRegistry, rtr *router.Router, netCfg config.NetworkConfig, log *logging.Logger) *PeerServer {
	return &PeerServer{local: local, registry: registry, router: rtr, netCfg: netCfg, log: log}
}

// Listen opens the TCP listener. Call before Serve.
func (p *PeerServer) Listen(listenAddr string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("overlay: listen %s: %w", listenAddr, err)
	}
	p.listener = ln
	return nil
}

// Addr returns the bound address, valid after Listen.
func (p *PeerServer) Addr() net.Addr {
	return p.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed by Close.
func (p *PeerServer) Serve(ctx context.Context) {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("accept failed", logging.Err(err))
			continue
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handleInbound(ctx, conn)
		}()
	}
}

// Close stops accepting new connections.
func (p *PeerServer) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

// Wait blocks until every in-flight handleInbound call has returned.
func (p *PeerServer) Wait() {
	p.wg.Wait()
}

func (p *PeerServer) handleInbound(ctx context.Context, conn net.Conn) {
	cfg := session.Config{
		HandshakeTimeout: p.netCfg.ConnectionTimeout,
		SteadyTimeout:    p.netCfg.AckTimeout,
		MaxMsgSize:       p.netCfg.MaxMsgSize,
	}
	s := session.New(conn, false, cfg, p.router, p.registry, p.log)

	remote, err := s.AcceptHandshake(ctx)
	if err != nil {
		conn.Close()
		p.log.Debug("inbound handshake failed", logging.Err(err))
		return
	}

	if !p.registry.TryInsert(remote, s) {
		conn.Close()
		p.log.Debug("rejected duplicate inbound session", logging.String("peer", remote.String()))
		return
	}

	if err := s.CompleteAccept(p.local.Identity(), remote); err != nil {
		conn.Close()
		p.registry.Remove(remote, s)
		p.log.Debug("inbound HELLO_OK failed", logging.Err(err))
		return
	}

	s.Run(ctx)
	p.log.Info("accepted peer", logging.String("peer", remote.String()))
}
