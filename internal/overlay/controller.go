// Package overlay drives the two standing loops that keep this process
// connected to its namespace: discovery+dial (poll the rendezvous
// directory, open sessions to peers we don't already hold one for) and
// re-registration (renew this peer's rendezvous entry before its TTL
// lapses). It also owns the forced "reconnect" operation the shell
// exposes. Grounded on the teacher's Overlay.discoveryLoop/autoconnect and
// Discovery.NeedsMorePeers/SelectPeersToConnect
// (internal/peermanagement/overlay.go, discovery.go), adapted from a
// fixed-slot TLS dial to this module's rendezvous-driven plain-TCP dial.
package overlay

import (
	"context"
	"net"
	"time"

	"github.com/chatp2p/chatp2p/internal/config"
	"github.com/chatp2p/chatp2p/internal/history"
	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/rendezvous"
	"github.com/chatp2p/chatp2p/internal/router"
	"github.com/chatp2p/chatp2p/internal/session"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// maxInFlightDials bounds concurrent outbound handshakes, per spec §4.6.
const maxInFlightDials = 10

// candidateCacheSize bounds the set of discovered-but-not-yet-sessioned
// peers the controller remembers between polls, so a large namespace
// doesn't grow this unbounded over a long-running process.
const candidateCacheSize = 256

// Controller drives discovery, dialing, and rendezvous re-registration.
type Controller struct {
	local    *identity.LocalPeer
	registry *session.SessionRegistry
	router   *router.Router
	rz       *rendezvous.Client
	log      *logging.Logger

	rendezvousCfg config.RendezvousConfig
	netCfg        config.NetworkConfig
	peerConnCfg   config.PeerConnectionConfig
	keepaliveCfg  config.KeepaliveConfig

	store *history.Store

	failures   *FailureTable
	candidates *lru.Cache[identity.PeerIdentity, identity.RemotePeerRecord]
	dialSem    chan struct{}

	grp    *errgroup.Group
	cancel context.CancelFunc
}

// New builds a Controller. The caller starts it with Run and stops it by
// cancelling the context passed there.
// store may be nil, in which case the boot cache is skipped: discovery
// relies solely on the rendezvous directory and dial outcomes are not
// remembered across restarts.
func New(
	local *identity.LocalPeer,
	registry *session.SessionRegistry,
	rtr *router.Router,
	rz *rendezvous.Client,
	store *history.Store,
	rendezvousCfg config.RendezvousConfig,
	netCfg config.NetworkConfig,
	peerConnCfg config.PeerConnectionConfig,
	keepaliveCfg config.KeepaliveConfig,
	log *logging.Logger,
) *Controller {
	candidates, err := lru.New[identity.PeerIdentity, identity.RemotePeerRecord](candidateCacheSize)
	if err != nil {
		// Only size <= 0 returns an error, and candidateCacheSize is a
		// positive constant, so this branch cannot be reached in practice.
		panic(err)
	}
	return &Controller{
		local:         local,
		registry:      registry,
		router:        rtr,
		rz:            rz,
		store:         store,
		log:           log,
		rendezvousCfg: rendezvousCfg,
		netCfg:        netCfg,
		peerConnCfg:   peerConnCfg,
		keepaliveCfg:  keepaliveCfg,
		failures:      NewFailureTable(),
		candidates:    candidates,
		dialSem:       make(chan struct{}, maxInFlightDials),
	}
}

// Run starts the discovery+dial loop and the re-registration loop under one
// errgroup, both stopped when ctx is cancelled. It performs the initial
// registration synchronously so the caller can surface a startup failure.
func (c *Controller) Run(ctx context.Context) error {
	c.seedFromHistory(ctx)

	if err := c.register(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	grp, grpCtx := errgroup.WithContext(runCtx)
	c.grp = grp
	c.cancel = cancel

	grp.Go(func() error {
		c.discoveryLoop(grpCtx)
		return nil
	})
	grp.Go(func() error {
		c.reRegistrationLoop(grpCtx)
		return nil
	})
	return nil
}

// Wait blocks until both loops have exited (the context was cancelled).
func (c *Controller) Wait() {
	if c.grp == nil {
		return
	}
	_ = c.grp.Wait()
	c.cancel()
}

func (c *Controller) register(ctx context.Context) error {
	id := c.local.Identity()
	resp, err := c.rz.RegisterWithRetry(ctx, rendezvous.RegisterRequest{
		PeerID:    id.String(),
		Name:      id.Name,
		Namespace: id.Namespace,
		Port:      c.local.ListenPort(),
		TTL:       c.local.RequestedTTL(),
	}, c.rendezvousCfg.RegisterRetryAttempts, c.rendezvousCfg.RegisterBackoffBase)
	if err != nil {
		return err
	}
	c.local.OnRegistered(resp.ConfirmedTTL, time.Now())
	c.log.Info("registered with rendezvous", logging.String("peer", id.String()), logging.Int("ttl", resp.ConfirmedTTL))
	return nil
}

// seedFromHistory loads remembered peers into the candidate set before the
// first rendezvous response arrives, so a restart doesn't have to wait a
// full discovery interval to start redialing peers it already knows about.
// A no-op when history persistence is disabled.
func (c *Controller) seedFromHistory(ctx context.Context) {
	if c.store == nil {
		return
	}
	entries, err := c.store.BootCandidates(ctx, candidateCacheSize)
	if err != nil {
		c.log.Warn("boot cache read failed", logging.Err(err))
		return
	}
	self := c.local.Identity()
	for _, e := range entries {
		id, err := identity.New(e.Name, e.Namespace)
		if err != nil || id == self {
			continue
		}
		c.candidates.Add(id, identity.RemotePeerRecord{Identity: id, IP: e.IP, Port: e.Port})
	}
}

func (c *Controller) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.rendezvousCfg.DiscoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.discoverAndDial(ctx)
		}
	}
}

// discoverAndDial runs one discovery pass and dials every candidate not
// already sessioned and not in backoff. It returns the number of dials it
// initiated (not necessarily completed), used by Reconcile's return value.
func (c *Controller) discoverAndDial(ctx context.Context) int {
	resp, err := c.rz.Discover(ctx, rendezvous.DiscoverRequest{Namespace: c.local.Identity().Namespace})
	if err != nil {
		c.log.Warn("discover failed", logging.Err(err))
		return 0
	}

	self := c.local.Identity()
	now := time.Now()

	for _, entry := range resp.Peers {
		id, err := identity.New(entry.Name, entry.Namespace)
		if err != nil || id == self {
			continue
		}
		c.candidates.Add(id, identity.RemotePeerRecord{Identity: id, IP: entry.IP, Port: entry.Port})
	}

	initiated := 0
	for _, id := range c.candidates.Keys() {
		record, ok := c.candidates.Peek(id)
		if !ok {
			continue
		}
		if c.registry.Has(id) {
			c.candidates.Remove(id)
			continue
		}
		if !c.failures.CanDialNow(id, now) {
			continue
		}

		select {
		case c.dialSem <- struct{}{}:
		case <-ctx.Done():
			return initiated
		}
		initiated++
		go func() {
			defer func() { <-c.dialSem }()
			c.dial(ctx, record)
		}()
	}
	return initiated
}

func (c *Controller) dial(ctx context.Context, remote identity.RemotePeerRecord) {
	dialCtx, cancel := context.WithTimeout(ctx, c.netCfg.ConnectionTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", remote.Addr())
	if err != nil {
		c.failures.RecordFailure(remote.Identity, time.Now())
		c.markDialFailed(ctx, remote)
		c.log.Debug("dial failed", logging.String("peer", remote.Identity.String()), logging.Err(err))
		return
	}

	cfg := session.Config{
		HandshakeTimeout: c.netCfg.ConnectionTimeout,
		SteadyTimeout:    c.netCfg.AckTimeout,
		MaxMsgSize:       c.netCfg.MaxMsgSize,
	}
	s := session.New(conn, true, cfg, c.router, c.registry, c.log)

	if err := s.DialHandshake(ctx, c.local.Identity(), remote.Identity); err != nil {
		conn.Close()
		c.failures.RecordFailure(remote.Identity, time.Now())
		c.markDialFailed(ctx, remote)
		c.log.Debug("handshake failed", logging.String("peer", remote.Identity.String()), logging.Err(err))
		return
	}

	if !c.registry.TryInsert(remote.Identity, s) {
		// lost the race against a concurrent inbound session for the same
		// identity; the winner stays, we tear down.
		conn.Close()
		return
	}

	c.failures.RecordSuccess(remote.Identity)
	c.markDialSucceeded(ctx, remote)
	// Close stops the keepalive and waits for its goroutine, so it must not
	// run on that goroutine.
	s.SetKeepalive(session.NewKeepalive(s.Send, func() { go s.Close() }, c.keepaliveCfg.PingInterval, c.keepaliveCfg.MaxPingFailures))
	s.Run(ctx)
	c.log.Info("dialed peer", logging.String("peer", remote.Identity.String()))
}

// markDialSucceeded records remote in the boot cache so a future restart
// can seed this candidate before the rendezvous directory answers. A no-op
// when history persistence is disabled.
func (c *Controller) markDialSucceeded(ctx context.Context, remote identity.RemotePeerRecord) {
	if c.store == nil {
		return
	}
	entry := history.BootCacheEntry{
		Name:      remote.Identity.Name,
		Namespace: remote.Identity.Namespace,
		IP:        remote.IP,
		Port:      remote.Port,
		LastSeen:  time.Now(),
	}
	if err := c.store.UpsertPeer(ctx, entry); err != nil {
		c.log.Warn("boot cache update failed", logging.Err(err))
	}
}

// markDialFailed increments remote's boot-cache fail count. A no-op for
// peers never successfully dialed before (nothing to update) or when
// history persistence is disabled.
func (c *Controller) markDialFailed(ctx context.Context, remote identity.RemotePeerRecord) {
	if c.store == nil {
		return
	}
	if err := c.store.MarkFailed(ctx, remote.Identity.Name, remote.Identity.Namespace); err != nil {
		c.log.Warn("boot cache update failed", logging.Err(err))
	}
}

// reRegistrationLoop renews the rendezvous registration before its TTL
// lapses, per spec §4.6: every 30s, if the remaining TTL window is under
// min(configured warning threshold, 10% of the confirmed TTL), re-register.
func (c *Controller) reRegistrationLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.maybeReRegister(ctx)
		}
	}
}

func (c *Controller) maybeReRegister(ctx context.Context) {
	state := c.local.Snapshot()
	if !state.Registered {
		return
	}

	threshold := c.rendezvousCfg.TTLWarningThreshold
	tenPercent := time.Duration(float64(state.ConfirmedTTL)*0.1) * time.Second
	if tenPercent < threshold {
		threshold = tenPercent
	}

	if state.RemainingTTL(time.Now()) >= threshold {
		return
	}

	if err := c.register(ctx); err != nil {
		c.log.Warn("re-registration failed", logging.Err(err))
	}
}

// Reconcile is the shell's forced "reconnect" operation: it clears the
// failure table (so standing backoff no longer blocks) and triggers one
// discovery+dial pass, returning the number of dials initiated, not the
// number completed.
func (c *Controller) Reconcile(ctx context.Context) int {
	c.failures.Clear()
	return c.discoverAndDial(ctx)
}
