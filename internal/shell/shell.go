// Package shell implements the interactive line-oriented command surface:
// peers, msg, pub, conn, status, rtt, reconnect, log <LEVEL>, help, quit.
// Out of the core engine's scope per spec §1 (the core is the transport
// and overlay maintenance, not the UI it's driven from) but still needed
// as the thin wiring layer a user actually runs. Grounded on the teacher's
// cobra command style (internal/cli/root.go, server.go) generalized from a
// one-shot daemon command to a REPL reading verbs off stdin.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/overlay"
	"github.com/chatp2p/chatp2p/internal/router"
	"github.com/chatp2p/chatp2p/internal/session"
)

// Shell reads verbs from in and writes responses to out until "quit" or EOF.
type Shell struct {
	local    *identity.LocalPeer
	registry *session.SessionRegistry
	router   *router.Router
	ctrl     *overlay.Controller
	log      *logging.Logger

	in  io.Reader
	out io.Writer
}

// New builds a Shell.
func New(local *identity.LocalPeer, registry *session.SessionRegistry, rtr *router.Router, ctrl *overlay.Controller, log *logging.Logger, in io.Reader, out io.Writer) *Shell {
	return &Shell{local: local, registry: registry, router: rtr, ctrl: ctrl, log: log, in: in, out: out}
}

// Run reads one verb per line until "quit", EOF, or ctx cancellation.
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if s.dispatch(ctx, line) {
			return nil
		}
	}
	return scanner.Err()
}

// dispatch handles one line, returning true if the shell should stop.
func (s *Shell) dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	verb, args := fields[0], fields[1:]

	switch verb {
	case "quit", "exit":
		return true
	case "help":
		s.printHelp()
	case "peers":
		s.cmdPeers()
	case "status":
		s.cmdStatus()
	case "conn":
		s.cmdConn(args)
	case "msg":
		s.cmdMsg(ctx, args)
	case "pub":
		s.cmdPub(args)
	case "rtt":
		s.cmdRTT(args)
	case "reconnect":
		s.cmdReconnect(ctx)
	case "log":
		s.cmdLog(args)
	default:
		fmt.Fprintf(s.out, "unknown command %q; try \"help\"\n", verb)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `commands:
  peers                 list connected peers
  status                show this peer's registration state
  conn <name@ns>        show connection info for one peer
  msg <name@ns> <text>  send text, waiting for ack
  pub <dest> <text>     publish text to "*" or "#namespace"
  rtt <name@ns>         show mean round-trip time
  reconnect             force a discovery+dial pass, ignoring backoff
  log <LEVEL>           change the log level at runtime
  help                  show this message
  quit                  exit
`)
}

func (s *Shell) cmdPeers() {
	snap := s.registry.Snapshot()
	if len(snap) == 0 {
		fmt.Fprintln(s.out, "(no active sessions)")
		return
	}
	for id, sess := range snap {
		fmt.Fprintf(s.out, "%s\tinitiator=%v\tstate=%s\n", id.String(), sess.Initiator(), sess.State())
	}
}

func (s *Shell) cmdStatus() {
	state := s.local.Snapshot()
	fmt.Fprintf(s.out, "identity=%s listen_port=%d registered=%v confirmed_ttl=%ds\n",
		s.local.Identity().String(), s.local.ListenPort(), state.Registered, state.ConfirmedTTL)
	if state.Registered {
		fmt.Fprintf(s.out, "remaining_ttl=%s\n", state.RemainingTTL(time.Now()).Round(time.Second))
	}
}

func (s *Shell) cmdConn(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: conn <name@namespace>")
		return
	}
	id, err := identity.Parse(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "invalid identity: %v\n", err)
		return
	}
	sess, ok := s.registry.Get(id)
	if !ok {
		fmt.Fprintln(s.out, "no session")
		return
	}
	fmt.Fprintf(s.out, "state=%s initiator=%v\n", sess.State(), sess.Initiator())
}

func (s *Shell) cmdMsg(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "usage: msg <name@namespace> <text...>")
		return
	}
	dst, err := identity.Parse(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "invalid identity: %v\n", err)
		return
	}
	payload := strings.Join(args[1:], " ")

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := s.router.Send(sendCtx, s.local.Identity(), dst, payload, true, 3*time.Second, 2)
	if result.Delivered {
		fmt.Fprintln(s.out, "delivered")
	} else {
		fmt.Fprintln(s.out, "not delivered")
	}
}

func (s *Shell) cmdPub(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "usage: pub <*|#namespace> <text...>")
		return
	}
	n := s.router.Publish(s.local.Identity(), args[0], strings.Join(args[1:], " "))
	fmt.Fprintf(s.out, "published to %d peer(s)\n", n)
}

func (s *Shell) cmdRTT(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: rtt <name@namespace>")
		return
	}
	id, err := identity.Parse(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "invalid identity: %v\n", err)
		return
	}
	sess, ok := s.registry.Get(id)
	if !ok {
		fmt.Fprintln(s.out, "no session")
		return
	}
	kw, ok := sess.KeepaliveWorker()
	if !ok {
		fmt.Fprintln(s.out, "no keepalive on this session")
		return
	}
	mean, ok := kw.MeanRTT()
	if !ok {
		fmt.Fprintln(s.out, "no samples yet")
		return
	}
	fmt.Fprintf(s.out, "mean_rtt_ms=%.2f samples=%d\n", mean, kw.SampleCount())
}

func (s *Shell) cmdReconnect(ctx context.Context) {
	n := s.ctrl.Reconcile(ctx)
	fmt.Fprintf(s.out, "initiated %d dial(s)\n", n)
}

func (s *Shell) cmdLog(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: log <LEVEL>")
		return
	}
	s.log.SetLevel(strings.ToLower(args[0]))
	fmt.Fprintf(s.out, "log level set to %s\n", s.log.Level())
}
