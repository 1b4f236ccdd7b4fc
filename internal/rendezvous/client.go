// Package rendezvous implements the short-lived TCP client used to talk to
// the rendezvous server: REGISTER, DISCOVER and UNREGISTER, each a single
// request/response exchange over its own connection, framed the same way
// as the peer-to-peer wire protocol (internal/wire). Grounded on
// original_source/rendezvous_client.py's _envia_comando and adapted into
// the teacher's connect-with-timeout, read-until-terminator shape from
// internal/peermanagement/peer.go's Connect/performHandshake.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/chatp2p/chatp2p/internal/wire"
)

// Error categories. Transport errors (dial/read/write failures, timeouts)
// are retryable by the overlay controller's backoff loop; server errors
// (an ERROR response from the rendezvous server) are logical and are not
// retried with the same payload.
var (
	ErrConnection = errors.New("rendezvous: transport error")
	ErrServer     = errors.New("rendezvous: server reported an error")
)

// ConnectionError wraps a transport-level failure (dial, write, read,
// timeout). errors.Is(err, ErrConnection) is true for these.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string        { return fmt.Sprintf("rendezvous: %s: %v", e.Op, e.Err) }
func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ServerError wraps a logical {"status":"ERROR", message, details?} response
// from the rendezvous server. errors.Is(err, ErrServer) is true for these.
type ServerError struct {
	Code    string
	Details string
}

func (e *ServerError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("rendezvous: server error: %s", e.Code)
	}
	return fmt.Sprintf("rendezvous: server error: %s: %s", e.Code, e.Details)
}
func (e *ServerError) Is(target error) bool { return target == ErrServer }

// Client issues one command per connection against a rendezvous server.
type Client struct {
	addr    string
	timeout time.Duration
}

// New builds a Client that dials addr ("host:port") with the given
// per-command timeout.
func New(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

// RegisterRequest is the REGISTER command payload: {type, peer_id, name,
// namespace, port, ttl}.
type RegisterRequest struct {
	PeerID    string `json:"peer_id"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Port      int    `json:"port"`
	TTL       int    `json:"ttl"`
}

// RegisterResponse is the server's {status, ip, port, ttl} reply to
// REGISTER.
type RegisterResponse struct {
	ObservedIP   string `json:"ip"`
	ObservedPort int    `json:"port"`
	ConfirmedTTL int    `json:"ttl"`
}

// Register announces this peer's identity and listen port, and returns the
// server-observed address and the TTL actually granted (which may be
// clamped below the requested value).
func (c *Client) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	cmd := map[string]any{
		"type":      "REGISTER",
		"peer_id":   req.PeerID,
		"name":      req.Name,
		"namespace": req.Namespace,
		"port":      req.Port,
		"ttl":       req.TTL,
	}

	var resp RegisterResponse
	if err := c.roundTrip(ctx, cmd, &resp); err != nil {
		return RegisterResponse{}, err
	}
	return resp, nil
}

// DiscoverRequest is the DISCOVER command payload, optionally scoped to one
// namespace.
type DiscoverRequest struct {
	Namespace string
}

// DiscoverResponse is the server's {status, peers} reply to DISCOVER.
type DiscoverResponse struct {
	Peers []PeerListEntry `json:"peers"`
}

// PeerListEntry is one {name, namespace, ip, port} entry in a DISCOVER
// response.
type PeerListEntry struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
}

// Discover asks the rendezvous server for the set of currently registered
// peers, optionally scoped to a namespace. Never retried by the caller —
// the overlay controller polls periodically instead.
func (c *Client) Discover(ctx context.Context, req DiscoverRequest) (DiscoverResponse, error) {
	cmd := map[string]any{"type": "DISCOVER"}
	if req.Namespace != "" {
		cmd["namespace"] = req.Namespace
	}

	var resp DiscoverResponse
	if err := c.roundTrip(ctx, cmd, &resp); err != nil {
		return DiscoverResponse{}, err
	}
	return resp, nil
}

// UnregisterRequest is the UNREGISTER command payload: {type, namespace,
// name, port}.
type UnregisterRequest struct {
	Name      string
	Namespace string
	Port      int
}

// Unregister withdraws this peer's registration ahead of its TTL expiring,
// part of the graceful quit sequence. Callers should log rather than
// propagate a failure here.
func (c *Client) Unregister(ctx context.Context, req UnregisterRequest) error {
	cmd := map[string]any{
		"type":      "UNREGISTER",
		"namespace": req.Namespace,
		"name":      req.Name,
		"port":      req.Port,
	}

	var resp struct{}
	return c.roundTrip(ctx, cmd, &resp)
}

// roundTrip sends one JSON command and decodes one JSON response, each
// framed as a single newline-terminated line, over its own short-lived
// connection.
func (c *Client) roundTrip(ctx context.Context, cmd map[string]any, out any) error {
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return &ConnectionError{Op: "encode", Err: err}
	}
	framed, err := wire.EncodeFrame(encoded)
	if err != nil {
		return &ConnectionError{Op: "encode", Err: err}
	}

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return &ConnectionError{Op: "set-deadline", Err: err}
	}

	if _, err := conn.Write(framed); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}

	line, err := wire.NewFrameReader(conn).ReadFrame()
	if err != nil {
		return &ConnectionError{Op: "read", Err: err}
	}

	var envelope struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return &ConnectionError{Op: "decode", Err: err}
	}
	if envelope.Status == "ERROR" {
		return &ServerError{Code: envelope.Message, Details: envelope.Details}
	}

	if err := json.Unmarshal(line, out); err != nil {
		return &ConnectionError{Op: "decode", Err: err}
	}
	return nil
}
