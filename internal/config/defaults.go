package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults sets every default value a chatp2p.toml may omit, matching
// the values spec.md's configuration table calls out as defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("rendezvous.host", "127.0.0.1")
	v.SetDefault("rendezvous.port", 9000)
	v.SetDefault("rendezvous.discover_interval", 30*time.Second)
	v.SetDefault("rendezvous.ttl_warning_treshold", 30*time.Second)
	v.SetDefault("rendezvous.register_retry_attempts", 5)
	v.SetDefault("rendezvous.register_backoff_base", 1*time.Second)

	v.SetDefault("network.connection_timeout", 10*time.Second)
	v.SetDefault("network.ack_timeout", 5*time.Second)
	v.SetDefault("network.max_msg_size", 32768)

	v.SetDefault("peer_connection.retry_attempts", 3)
	v.SetDefault("peer_connection.backoff_base", 500*time.Millisecond)

	v.SetDefault("keepalive.ping_interval", 15*time.Second)
	v.SetDefault("keepalive.max_ping_failures", 3)

	v.SetDefault("message_router.max_retries", 3)

	v.SetDefault("identity.listen_port", 7000)
	v.SetDefault("identity.requested_ttl", 120)

	v.SetDefault("log.level", "info")

	v.SetDefault("history.path", "")
}
