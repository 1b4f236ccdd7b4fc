// Command chatp2p is the process entry point: load configuration, build
// shared state, start the peer server and overlay controller, and drop
// into the interactive shell. Grounded on the teacher's cmd/xrpld/main.go
// + internal/cli/root.go/server.go cobra wiring, generalized from the HTTP
// JSON-RPC daemon to this module's peer transport + shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatp2p/chatp2p/internal/config"
	"github.com/chatp2p/chatp2p/internal/history"
	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/overlay"
	"github.com/chatp2p/chatp2p/internal/rendezvous"
	"github.com/chatp2p/chatp2p/internal/router"
	"github.com/chatp2p/chatp2p/internal/sharedstate"
	"github.com/chatp2p/chatp2p/internal/shell"
	"github.com/chatp2p/chatp2p/internal/wire"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chatp2p",
	Short: "chatp2p - a rendezvous-discovered peer-to-peer chat overlay",
	Long: `chatp2p maintains a direct TCP session with every reachable peer in its
namespace: it registers with a rendezvous directory, discovers and dials
peers, keeps sessions alive with PING/PONG, and routes SEND/PUB messages
between them. This is the process that hosts that engine and exposes it
through an interactive shell.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "", "configuration file path (TOML)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.Log.Level)
	defer log.Sync()

	localID, err := identity.New(cfg.Identity.Name, cfg.Identity.Namespace)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	local, err := identity.NewLocalPeer(localID, cfg.Identity.ListenPort, cfg.Identity.RequestedTTL)
	if err != nil {
		return fmt.Errorf("local peer: %w", err)
	}

	shared := sharedstate.New(cfg, local)

	// Open succeeds against an in-memory database when cfg.History.Path is
	// empty, so persistence across restarts is opt-in purely via the
	// configured path while history queries stay available either way.
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		log.Warn("history store unavailable", logging.Err(err))
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	rtr := router.New(sharedstate.NewRouterSource(shared.Registry()), cfg.MessageRouter.MaxRetries, log.Named("router"))

	// Print every delivered SEND/PUB to stdout. Message content is never
	// persisted (spec's "message persistence" non-goal); only the boot
	// cache's connection metadata survives a restart, via store below.
	rtr.Subscribe(func(from identity.PeerIdentity, payload string, msg wire.Message) {
		fmt.Printf("[%s] %s\n", from.String(), payload)
	})

	rz := rendezvous.New(cfg.RendezvousAddr(), cfg.Network.ConnectionTimeout)

	ctrl := overlay.New(
		local, shared.Registry(), rtr, rz, store,
		cfg.Rendezvous, cfg.Network, cfg.PeerConnection, cfg.Keepalive,
		log.Named("overlay"),
	)

	peerServer := overlay.NewPeerServer(local, shared.Registry(), rtr, cfg.Network, log.Named("peerserver"))
	if err := peerServer.Listen(fmt.Sprintf(":%d", cfg.Identity.ListenPort)); err != nil {
		return fmt.Errorf("peer server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	go peerServer.Serve(ctx)

	if err := ctrl.Run(ctx); err != nil {
		return fmt.Errorf("overlay start: %w", err)
	}

	sh := shell.New(local, shared.Registry(), rtr, ctrl, log, os.Stdin, os.Stdout)
	err = sh.Run(ctx)

	cancel()
	peerServer.Close()
	rtr.Shutdown()
	ctrl.Wait()
	peerServer.Wait()

	return err
}
