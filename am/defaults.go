package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "weave")
	v.SetDefault("agent.data_dir", ".weave")

	v.SetDefault("database.path", "weave.db")

	v.SetDefault("carrier.kind", CarrierWebSocket)
	v.SetDefault("carrier.file.path", ".weave/carrier.jsonl")
	v.SetDefault("carrier.inbox.dir", ".weave/agents")
	v.SetDefault("carrier.websocket.listen", "127.0.0.1:7465")
	v.SetDefault("carrier.websocket.peers", []string{})

	v.SetDefault("sandbox.enabled", false)
	v.SetDefault("sandbox.binary", "weave-sandbox")
	v.SetDefault("sandbox.call_timeout_seconds", 30)
	v.SetDefault("sandbox.permissions", []string{})

	v.SetDefault("ledger.rate_per_second", 10.0)
	v.SetDefault("ledger.burst", 5)

	v.SetDefault("log.json", false)
}
