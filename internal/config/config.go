// Package config loads chatp2p's configuration: the rendezvous, network,
// peer connection, keepalive, message router, identity, logging, and
// history sections consumed by the core, following the teacher's
// viper-backed load/validate structure (internal/config/{config,loader,
// defaults}.go) generalized from a fixed rippled.cfg mirror to this
// module's own key set.
package config

import (
	"fmt"
	"time"
)

// RendezvousConfig configures the rendezvous client and the overlay
// controller's re-registration loop.
type RendezvousConfig struct {
	Host                  string        `toml:"host" mapstructure:"host"`
	Port                  int           `toml:"port" mapstructure:"port"`
	DiscoverInterval      time.Duration `toml:"discover_interval" mapstructure:"discover_interval"`
	TTLWarningThreshold   time.Duration `toml:"ttl_warning_treshold" mapstructure:"ttl_warning_treshold"`
	RegisterRetryAttempts int           `toml:"register_retry_attempts" mapstructure:"register_retry_attempts"`
	RegisterBackoffBase   time.Duration `toml:"register_backoff_base" mapstructure:"register_backoff_base"`
}

// NetworkConfig configures transport-level timeouts and the message cap.
type NetworkConfig struct {
	ConnectionTimeout time.Duration `toml:"connection_timeout" mapstructure:"connection_timeout"`
	AckTimeout        time.Duration `toml:"ack_timeout" mapstructure:"ack_timeout"`
	MaxMsgSize        int           `toml:"max_msg_size" mapstructure:"max_msg_size"`
}

// PeerConnectionConfig configures outbound dial retry/backoff.
type PeerConnectionConfig struct {
	RetryAttempts int           `toml:"retry_attempts" mapstructure:"retry_attempts"`
	BackoffBase   time.Duration `toml:"backoff_base" mapstructure:"backoff_base"`
}

// KeepaliveConfig configures the initiator-side PING/PONG loop.
type KeepaliveConfig struct {
	PingInterval    time.Duration `toml:"ping_interval" mapstructure:"ping_interval"`
	MaxPingFailures int           `toml:"max_ping_failures" mapstructure:"max_ping_failures"`
}

// MessageRouterConfig configures SEND/ACK retry.
type MessageRouterConfig struct {
	MaxRetries int `toml:"max_retries" mapstructure:"max_retries"`
}

// IdentityConfig configures this process's own peer identity and listen
// port.
type IdentityConfig struct {
	Name         string `toml:"name" mapstructure:"name"`
	Namespace    string `toml:"namespace" mapstructure:"namespace"`
	ListenPort   int    `toml:"listen_port" mapstructure:"listen_port"`
	RequestedTTL int    `toml:"requested_ttl" mapstructure:"requested_ttl"`
}

// LogConfig configures the initial log level.
type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
}

// HistoryConfig configures the optional sqlite-backed session/boot-cache
// store (internal/history). An empty Path disables persistence.
type HistoryConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

// Config is the full, validated configuration tree consumed by the core.
// This mirrors the structure of a chatp2p.toml file.
type Config struct {
	Rendezvous     RendezvousConfig     `toml:"rendezvous" mapstructure:"rendezvous"`
	Network        NetworkConfig        `toml:"network" mapstructure:"network"`
	PeerConnection PeerConnectionConfig `toml:"peer_connection" mapstructure:"peer_connection"`
	Keepalive      KeepaliveConfig      `toml:"keepalive" mapstructure:"keepalive"`
	MessageRouter  MessageRouterConfig  `toml:"message_router" mapstructure:"message_router"`
	Identity       IdentityConfig       `toml:"identity" mapstructure:"identity"`
	Log            LogConfig            `toml:"log" mapstructure:"log"`
	History        HistoryConfig        `toml:"history" mapstructure:"history"`

	configPath string `toml:"-" mapstructure:"-"`
}

// GetConfigPath returns the path the config was loaded from, or "" if it
// was built without a file (defaults + env only).
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// RendezvousAddr returns the "host:port" address of the rendezvous server.
func (c *Config) RendezvousAddr() string {
	return fmt.Sprintf("%s:%d", c.Rendezvous.Host, c.Rendezvous.Port)
}
