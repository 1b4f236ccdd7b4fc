package config

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingHost       = errors.New("config: rendezvous.host is required")
	ErrInvalidPort       = errors.New("config: rendezvous.port must be between 1 and 65535")
	ErrInvalidListenPort = errors.New("config: identity.listen_port must be between 1 and 65535")
	ErrInvalidTTL        = errors.New("config: identity.requested_ttl must be between 1 and 86400 seconds")
	ErrTTLTooSmall       = errors.New("config: identity.requested_ttl must exceed 2x rendezvous.ttl_warning_treshold")
	ErrInvalidMaxMsgSize = errors.New("config: network.max_msg_size must be positive and at most 32768")
	ErrMissingName       = errors.New("config: identity.name is required")
	ErrMissingNamespace  = errors.New("config: identity.namespace is required")
)

// Validate performs validation on the rendezvous configuration section.
func (r *RendezvousConfig) Validate() error {
	if r.Host == "" {
		return ErrMissingHost
	}
	if r.Port < 1 || r.Port > 65535 {
		return ErrInvalidPort
	}
	if r.DiscoverInterval <= 0 {
		return fmt.Errorf("config: rendezvous.discover_interval must be positive, got %s", r.DiscoverInterval)
	}
	if r.RegisterRetryAttempts < 0 {
		return fmt.Errorf("config: rendezvous.register_retry_attempts must be non-negative, got %d", r.RegisterRetryAttempts)
	}
	return nil
}

// Validate performs validation on the network configuration section.
func (n *NetworkConfig) Validate() error {
	if n.MaxMsgSize <= 0 || n.MaxMsgSize > 32768 {
		return ErrInvalidMaxMsgSize
	}
	if n.ConnectionTimeout <= 0 {
		return fmt.Errorf("config: network.connection_timeout must be positive, got %s", n.ConnectionTimeout)
	}
	if n.AckTimeout <= 0 {
		return fmt.Errorf("config: network.ack_timeout must be positive, got %s", n.AckTimeout)
	}
	return nil
}

// Validate performs validation on the identity configuration section.
func (i *IdentityConfig) Validate() error {
	if i.Name == "" {
		return ErrMissingName
	}
	if i.Namespace == "" {
		return ErrMissingNamespace
	}
	if i.ListenPort < 1 || i.ListenPort > 65535 {
		return ErrInvalidListenPort
	}
	if i.RequestedTTL < 1 || i.RequestedTTL > 86400 {
		return ErrInvalidTTL
	}
	return nil
}

// Validate performs validation on the keepalive configuration section.
func (k *KeepaliveConfig) Validate() error {
	if k.PingInterval <= 0 {
		return fmt.Errorf("config: keepalive.ping_interval must be positive, got %s", k.PingInterval)
	}
	if k.MaxPingFailures < 1 {
		return fmt.Errorf("config: keepalive.max_ping_failures must be at least 1, got %d", k.MaxPingFailures)
	}
	return nil
}

// ValidateConfig validates the complete configuration, including the
// cross-section setup invariant that the requested registration TTL must
// exceed twice the rendezvous TTL warning threshold.
func ValidateConfig(c *Config) error {
	if err := c.Rendezvous.Validate(); err != nil {
		return err
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Keepalive.Validate(); err != nil {
		return err
	}
	if c.PeerConnection.RetryAttempts < 0 {
		return fmt.Errorf("config: peer_connection.retry_attempts must be non-negative, got %d", c.PeerConnection.RetryAttempts)
	}
	if c.MessageRouter.MaxRetries < 0 {
		return fmt.Errorf("config: message_router.max_retries must be non-negative, got %d", c.MessageRouter.MaxRetries)
	}

	requestedTTL := time.Duration(c.Identity.RequestedTTL) * time.Second
	if requestedTTL <= 2*c.Rendezvous.TTLWarningThreshold {
		return ErrTTLTooSmall
	}
	return nil
}
