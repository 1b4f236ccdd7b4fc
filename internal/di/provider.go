package di

import (
	"fmt"

	"github.com/chatp2p/chatp2p/internal/config"
	"github.com/chatp2p/chatp2p/internal/history"
	"github.com/chatp2p/chatp2p/internal/identity"
	"github.com/chatp2p/chatp2p/internal/logging"
	"github.com/chatp2p/chatp2p/internal/overlay"
	"github.com/chatp2p/chatp2p/internal/rendezvous"
	"github.com/chatp2p/chatp2p/internal/router"
	"github.com/chatp2p/chatp2p/internal/sharedstate"
)

// Provider registers the builders for every chatp2p service in a
// Container, so a caller can resolve each component by name instead of
// constructing them inline (cmd/chatp2p/main.go constructs them inline).
type Provider struct {
	container *Container
	config    *config.Config
	local     *identity.LocalPeer
}

// NewProvider creates a provider over cfg and the already-validated local
// peer identity (built once at startup, before the container exists).
func NewProvider(container *Container, cfg *config.Config, local *identity.LocalPeer) *Provider {
	return &Provider{container: container, config: cfg, local: local}
}

// RegisterAll registers every builder. Nothing is constructed until a
// caller resolves it via Container.Get.
func (p *Provider) RegisterAll() {
	p.container.Register(ServiceConfig, p.config)

	p.container.RegisterBuilder(ServiceLogger, func(c *Container) (interface{}, error) {
		return logging.New(p.config.Log.Level), nil
	})

	p.container.RegisterBuilder(ServiceSharedState, func(c *Container) (interface{}, error) {
		return sharedstate.New(p.config, p.local), nil
	})

	p.container.RegisterBuilder(ServiceHistoryStore, func(c *Container) (interface{}, error) {
		return history.Open(p.config.History.Path)
	})

	p.container.RegisterBuilder(ServiceRendezvous, func(c *Container) (interface{}, error) {
		return rendezvous.New(p.config.RendezvousAddr(), p.config.Network.ConnectionTimeout), nil
	})

	p.container.RegisterBuilder(ServiceRouter, func(c *Container) (interface{}, error) {
		shared, err := p.sharedState(c)
		if err != nil {
			return nil, err
		}
		log, err := p.logger(c)
		if err != nil {
			return nil, err
		}
		return router.New(sharedstate.NewRouterSource(shared.Registry()), p.config.MessageRouter.MaxRetries, log.Named("router")), nil
	})

	p.container.RegisterBuilder(ServiceOverlay, func(c *Container) (interface{}, error) {
		shared, err := p.sharedState(c)
		if err != nil {
			return nil, err
		}
		rtr, err := p.router(c)
		if err != nil {
			return nil, err
		}
		rz, err := p.rendezvous(c)
		if err != nil {
			return nil, err
		}
		store, err := p.historyStore(c)
		if err != nil {
			return nil, err
		}
		log, err := p.logger(c)
		if err != nil {
			return nil, err
		}
		return overlay.New(
			p.local, shared.Registry(), rtr, rz, store,
			p.config.Rendezvous, p.config.Network, p.config.PeerConnection, p.config.Keepalive,
			log.Named("overlay"),
		), nil
	})

	p.container.RegisterBuilder(ServicePeerServer, func(c *Container) (interface{}, error) {
		shared, err := p.sharedState(c)
		if err != nil {
			return nil, err
		}
		rtr, err := p.router(c)
		if err != nil {
			return nil, err
		}
		log, err := p.logger(c)
		if err != nil {
			return nil, err
		}
		return overlay.NewPeerServer(p.local, shared.Registry(), rtr, p.config.Network, log.Named("peerserver")), nil
	})
}

func (p *Provider) sharedState(c *Container) (*sharedstate.SharedState, error) {
	v, err := c.Get(ServiceSharedState)
	if err != nil {
		return nil, err
	}
	s, ok := v.(*sharedstate.SharedState)
	if !ok {
		return nil, fmt.Errorf("di: %s is not *sharedstate.SharedState", ServiceSharedState)
	}
	return s, nil
}

func (p *Provider) router(c *Container) (*router.Router, error) {
	v, err := c.Get(ServiceRouter)
	if err != nil {
		return nil, err
	}
	r, ok := v.(*router.Router)
	if !ok {
		return nil, fmt.Errorf("di: %s is not *router.Router", ServiceRouter)
	}
	return r, nil
}

func (p *Provider) historyStore(c *Container) (*history.Store, error) {
	v, err := c.Get(ServiceHistoryStore)
	if err != nil {
		return nil, err
	}
	s, ok := v.(*history.Store)
	if !ok {
		return nil, fmt.Errorf("di: %s is not *history.Store", ServiceHistoryStore)
	}
	return s, nil
}

func (p *Provider) rendezvous(c *Container) (*rendezvous.Client, error) {
	v, err := c.Get(ServiceRendezvous)
	if err != nil {
		return nil, err
	}
	r, ok := v.(*rendezvous.Client)
	if !ok {
		return nil, fmt.Errorf("di: %s is not *rendezvous.Client", ServiceRendezvous)
	}
	return r, nil
}

func (p *Provider) logger(c *Container) (*logging.Logger, error) {
	v, err := c.Get(ServiceLogger)
	if err != nil {
		return nil, err
	}
	l, ok := v.(*logging.Logger)
	if !ok {
		return nil, fmt.Errorf("di: %s is not *logging.Logger", ServiceLogger)
	}
	return l, nil
}
