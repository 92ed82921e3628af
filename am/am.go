// Package am loads the node configuration ("am" as in "I am").
//
// Values come from, in rising precedence: defaults, /etc/weave/am.toml,
// ~/.weave/am.toml, the nearest am.toml above the working directory, and
// WEAVE_* environment variables (WEAVE_CARRIER_KIND for carrier.kind).
package am

// Config is the full node configuration.
type Config struct {
	Agent          AgentConfig          `mapstructure:"agent" toml:"agent"`
	Database       DatabaseConfig       `mapstructure:"database" toml:"database"`
	Carrier        CarrierConfig        `mapstructure:"carrier" toml:"carrier"`
	Sandbox        SandboxConfig        `mapstructure:"sandbox" toml:"sandbox"`
	Ledger         LedgerConfig         `mapstructure:"ledger" toml:"ledger"`
	Neighbourhoods []NeighbourhoodEntry `mapstructure:"neighbourhoods" toml:"neighbourhoods"`
	Log            LogConfig            `mapstructure:"log" toml:"log"`
}

// AgentConfig names the node and where it keeps local files.
type AgentConfig struct {
	Name    string `mapstructure:"name" toml:"name"`
	DataDir string `mapstructure:"data_dir" toml:"data_dir"`
}

// DatabaseConfig configures the SQLite database holding the agent key,
// graph snapshots and restore records.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// Carrier kinds
const (
	CarrierBus       = "bus"
	CarrierFile      = "file"
	CarrierInbox     = "inbox"
	CarrierWebSocket = "websocket"
)

// CarrierConfig selects and configures the message transport.
type CarrierConfig struct {
	Kind      string                 `mapstructure:"kind" toml:"kind"`
	File      FileCarrierConfig      `mapstructure:"file" toml:"file"`
	Inbox     InboxCarrierConfig     `mapstructure:"inbox" toml:"inbox"`
	WebSocket WebSocketCarrierConfig `mapstructure:"websocket" toml:"websocket"`
}

// FileCarrierConfig points at the shared append-only log.
type FileCarrierConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// InboxCarrierConfig points at the root holding <did>/inbox directories.
type InboxCarrierConfig struct {
	Dir string `mapstructure:"dir" toml:"dir"`
}

// WebSocketCarrierConfig configures the listener and the peers dialled at startup.
type WebSocketCarrierConfig struct {
	Listen string   `mapstructure:"listen" toml:"listen"`
	Peers  []string `mapstructure:"peers" toml:"peers"` // ws://host:port/carrier
}

// SandboxConfig configures the external language host.
type SandboxConfig struct {
	Enabled            bool              `mapstructure:"enabled" toml:"enabled"`
	Binary             string            `mapstructure:"binary" toml:"binary"`
	CallTimeoutSeconds int               `mapstructure:"call_timeout_seconds" toml:"call_timeout_seconds"`
	Modules            map[string]string `mapstructure:"modules" toml:"modules"` // handle = "path/to/module.go"
	Permissions        []string          `mapstructure:"permissions" toml:"permissions"` // read, write, net, env, run
}

// LedgerConfig configures the zome client used by ledger-backed languages.
// An empty URL uses an in-process ledger.
type LedgerConfig struct {
	URL           string  `mapstructure:"url" toml:"url"`
	RatePerSecond float64 `mapstructure:"rate_per_second" toml:"rate_per_second"` // 0 = unlimited
	Burst         int     `mapstructure:"burst" toml:"burst"`
}

// NeighbourhoodEntry is a neighbourhood joined at startup.
type NeighbourhoodEntry struct {
	URL      string `mapstructure:"url" toml:"url"`
	Language string `mapstructure:"language" toml:"language"` // language address
}

// LogConfig configures the process logger.
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// DefaultDirPermissions is used for directories created under agent.data_dir.
const DefaultDirPermissions = 0o750
