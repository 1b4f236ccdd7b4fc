package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Rendezvous: RendezvousConfig{
			Host:                  "127.0.0.1",
			Port:                  9000,
			DiscoverInterval:      30 * time.Second,
			TTLWarningThreshold:   30 * time.Second,
			RegisterRetryAttempts: 5,
			RegisterBackoffBase:   time.Second,
		},
		Network: NetworkConfig{
			ConnectionTimeout: 10 * time.Second,
			AckTimeout:        5 * time.Second,
			MaxMsgSize:        32768,
		},
		PeerConnection: PeerConnectionConfig{RetryAttempts: 3, BackoffBase: 500 * time.Millisecond},
		Keepalive:      KeepaliveConfig{PingInterval: 15 * time.Second, MaxPingFailures: 3},
		MessageRouter:  MessageRouterConfig{MaxRetries: 3},
		Identity: IdentityConfig{
			Name:         "alice",
			Namespace:    "lobby",
			ListenPort:   7000,
			RequestedTTL: 120,
		},
		Log: LogConfig{Level: "info"},
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, ValidateConfig(&cfg))
}

func TestValidateConfig_TTLTooSmall(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.RequestedTTL = 40 // <= 2 * 30s warning threshold
	err := ValidateConfig(&cfg)
	assert.ErrorIs(t, err, ErrTTLTooSmall)
}

func TestValidateConfig_MissingHost(t *testing.T) {
	cfg := validConfig()
	cfg.Rendezvous.Host = ""
	assert.ErrorIs(t, ValidateConfig(&cfg), ErrMissingHost)
}

func TestValidateConfig_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Rendezvous.Port = 70000
	assert.ErrorIs(t, ValidateConfig(&cfg), ErrInvalidPort)
}

func TestValidateConfig_MissingIdentity(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.Name = ""
	assert.ErrorIs(t, ValidateConfig(&cfg), ErrMissingName)

	cfg = validConfig()
	cfg.Identity.Namespace = ""
	assert.ErrorIs(t, ValidateConfig(&cfg), ErrMissingNamespace)
}

func TestValidateConfig_MaxMsgSize(t *testing.T) {
	cfg := validConfig()
	cfg.Network.MaxMsgSize = 0
	assert.ErrorIs(t, ValidateConfig(&cfg), ErrInvalidMaxMsgSize)

	cfg.Network.MaxMsgSize = 40000
	assert.ErrorIs(t, ValidateConfig(&cfg), ErrInvalidMaxMsgSize)
}

func TestLoadDefaultConfig(t *testing.T) {
	cfg, err := LoadDefaultConfig()
	require.Error(t, err) // defaults alone lack identity.name/namespace
	assert.Nil(t, cfg)
}

func TestRendezvousAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "127.0.0.1:9000", cfg.RendezvousAddr())
}
