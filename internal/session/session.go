// Package session implements one full-duplex TCP session with one remote
// peer: framing, handshake, send/receive queues, dispatch by message type,
// and idempotent graceful close. Grounded on the teacher's
// internal/peermanagement/peer.go Peer type (state enum, mutex-protected
// fields, reader/writer worker pair driven off an errCh, atomic-bool guarded
// Close), generalized from TLS+XRPL framing to this module's
// line-delimited-JSON wire protocol (internal/wire) and from crypto
// handshake to the plain HELLO/HELLO_OK exchange in
// original_source/peer_connection.py.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/wire"
)

// State is the session's lifecycle state.
type State int

const (
	Starting State = iota
	Running
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrQueueFull         = errors.New("session: outbound queue full")
	ErrSessionClosed     = errors.New("session: closed")
	ErrHandshakeFailed   = errors.New("session: handshake failed")
	ErrDuplicateIdentity = errors.New("session: peer identity already has a session")
)

// outboundQueueSize bounds the writer's backlog; a full queue signals
// back-pressure to producers rather than blocking indefinitely.
const outboundQueueSize = 256

// Router is the message router's inbound entry point, invoked by a
// session's reader on every SEND/ACK/PUB. Kept as a narrow interface so
// session never imports the router package directly (Session <-> Router
// <-> SharedState is a cycle broken by indirection, per the design notes).
type Router interface {
	ProcessIncoming(msg wire.Message, fromPeer identity.PeerIdentity)
}

// Keepalive is the narrow interface a Session drives its keepalive worker
// through, satisfied by *KeepaliveWorker. Only initiator sessions have
// one.
type Keepalive interface {
	Start()
	Stop()
	HandlePong(msg wire.Message)
}

// Registry is the narrow interface a Session uses to remove itself on
// close.
type Registry interface {
	Remove(id identity.PeerIdentity, s *Session)
}

// Config bundles the tunables a Session needs from the process
// configuration.
type Config struct {
	HandshakeTimeout time.Duration
	SteadyTimeout    time.Duration
	MaxMsgSize       int
}

// Session owns one TCP byte stream to one remote peer.
type Session struct {
	mu        sync.RWMutex
	state     State
	identity  identity.PeerIdentity
	initiator bool

	conn   net.Conn
	cfg    Config
	log    *logging.Logger
	router Router

	writeMu sync.Mutex // serializes socket writes across handshake + writer

	outbound chan wire.Message
	wg       sync.WaitGroup

	keepalive Keepalive
	kw        *KeepaliveWorker
	registry  Registry

	closed    atomic.Bool
	closeOnce sync.Once

	readerDone chan struct{}
	writerDone chan struct{}
	stopCh     chan struct{}
}

// New wraps conn as a not-yet-handshaken session. Call DialHandshake or
// AcceptHandshake before Run.
func New(conn net.Conn, initiator bool, cfg Config, router Router, registry Registry, log *logging.Logger) *Session {
	return &Session{
		state:      Starting,
		initiator:  initiator,
		conn:       conn,
		cfg:        cfg,
		router:     router,
		registry:   registry,
		log:        log,
		outbound:   make(chan wire.Message, outboundQueueSize),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
}

// Identity returns the remote peer's identity. Valid only after a
// successful handshake.
func (s *Session) Identity() identity.PeerIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Initiator reports whether this side dialed.
func (s *Session) Initiator() bool { return s.initiator }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SetKeepalive attaches a keepalive driver, started by Run. Only called for
// initiator sessions.
func (s *Session) SetKeepalive(k *KeepaliveWorker) {
	s.keepalive = k
	s.kw = k
}

// KeepaliveWorker returns the attached keepalive driver, if any, so callers
// (the shell's "rtt" command) can read its RTT samples.
func (s *Session) KeepaliveWorker() (*KeepaliveWorker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.kw == nil {
		return nil, false
	}
	return s.kw, true
}

// writeFrame serializes one Message onto the wire, used directly by the
// handshake (before workers exist) and by the writer loop afterward.
func (s *Session) writeFrame(msg wire.Message) error {
	encoded, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	framed, err := wire.EncodeFrame(encoded)
	if err != nil {
		return fmt.Errorf("session: frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.conn.Write(framed)
	return err
}

// readFrame reads and decodes exactly one Message.
func (s *Session) readFrame(reader *wire.FrameReader) (wire.Message, error) {
	line, err := reader.ReadFrame()
	if err != nil {
		return wire.Message{}, err
	}
	return wire.Decode(line)
}

// Run starts the reader and writer workers (and the keepalive, if any) and
// transitions to Running. Must be called exactly once, after a successful
// handshake.
func (s *Session) Run(ctx context.Context) {
	s.setState(Running)

	reader := wire.NewFrameReader(s.conn)

	s.wg.Add(2)
	go s.readLoop(reader)
	go s.writeLoop()

	if s.keepalive != nil {
		s.keepalive.Start()
	}
}

func (s *Session) readLoop(reader *wire.FrameReader) {
	defer s.wg.Done()
	defer close(s.readerDone)

	for {
		msg, err := s.readFrame(reader)
		if err != nil {
			if s.State() != Closing && s.State() != Closed {
				s.log.Debug("session read error", logging.String("peer", s.Identity().String()), logging.Err(err))
			}
			s.Close()
			return
		}
		s.dispatch(msg)
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	defer close(s.writerDone)

	for {
		select {
		case <-s.stopCh:
			return
		case msg := <-s.outbound:
			if err := s.writeFrame(msg); err != nil {
				s.log.Debug("session write error", logging.String("peer", s.Identity().String()), logging.Err(err))
				s.Close()
				return
			}
		}
	}
}

// dispatch handles one received message by type (spec §4.2's running-state
// table).
func (s *Session) dispatch(msg wire.Message) {
	switch msg.Type {
	case wire.TypePing:
		s.enqueue(wire.Message{
			Type:      wire.TypePong,
			TTL:       wire.WireTTL,
			MsgID:     msg.MsgID,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	case wire.TypePong:
		if s.keepalive != nil {
			s.keepalive.HandlePong(msg)
		}
	case wire.TypeBye:
		s.enqueue(wire.Message{Type: wire.TypeByeOK, TTL: wire.WireTTL, MsgID: msg.MsgID, Src: msg.Dst, Dst: msg.Src})
		s.Close()
	case wire.TypeByeOK:
		s.Close()
	case wire.TypeSend, wire.TypeAck, wire.TypePub:
		if msg.Compressed {
			payload, err := wire.DecompressPayload(msg.Payload, msg.UncompressedSize)
			if err != nil {
				s.log.Warn("dropping message with undecodable payload", logging.String("peer", s.Identity().String()), logging.Err(err))
				return
			}
			msg.Payload = string(payload)
			msg.Compressed = false
		}
		if s.router != nil {
			s.router.ProcessIncoming(msg, s.Identity())
		}
	default:
		s.log.Debug("unknown message type", logging.String("type", string(msg.Type)))
	}
}

// enqueue places a message on the outbound queue without blocking; a full
// queue is dropped with a logged warning rather than stalling the reader.
func (s *Session) enqueue(msg wire.Message) {
	select {
	case <-s.stopCh:
	case s.outbound <- msg:
	default:
		s.log.Warn("outbound queue full, dropping message", logging.String("peer", s.Identity().String()), logging.String("type", string(msg.Type)))
	}
}

// Send enqueues msg for transmission. Returns ErrQueueFull if the backlog
// is saturated and ErrSessionClosed if the session is no longer running.
// SEND/PUB payloads at or above wire.MinCompressibleSize are LZ4-compressed
// before framing; the receiving side's dispatch reverses this.
func (s *Session) Send(msg wire.Message) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if (msg.Type == wire.TypeSend || msg.Type == wire.TypePub) && !msg.Compressed {
		if encoded, n, ok := wire.CompressPayload([]byte(msg.Payload)); ok {
			msg.Payload = encoded
			msg.Compressed = true
			msg.UncompressedSize = n
		}
	}
	select {
	case <-s.stopCh:
		return ErrSessionClosed
	case s.outbound <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close is idempotent: it stops the keepalive, closes the socket (which
// unblocks both workers from their blocking I/O), waits up to 5 seconds
// for them to exit (see joinWorkers), and removes this session from the
// registry.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.setState(Closing)

		if s.keepalive != nil {
			s.keepalive.Stop()
		}

		close(s.stopCh)
		_ = s.conn.Close()

		s.joinWorkers()

		s.setState(Closed)
		if s.registry != nil {
			s.registry.Remove(s.Identity(), s)
		}
	})
}

// joinWorkers waits for the reader and writer to exit, for at most 5
// seconds. It does not know which goroutine called Close: when Close runs
// on the reader or writer itself (an I/O error, BYE, BYE_OK), or a worker's
// own Close call is blocked behind this one, that worker cannot exit first,
// so the wait ends at the 5-second bound and a warning is logged.
func (s *Session) joinWorkers() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("session close: worker join timed out", logging.String("peer", s.Identity().String()))
	}
}
