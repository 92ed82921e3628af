package am

import (
	"strings"

	"github.com/teranos/weave/errors"
)

// neighbourhoodScheme mirrors neighbourhood.URLScheme; am stays free of
// domain imports.
const neighbourhoodScheme = "neighbourhood://"

// sandboxPermissions mirrors rpc.Permissions.
var sandboxPermissions = map[string]bool{"read": true, "write": true, "net": true, "env": true, "run": true}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	switch c.Carrier.Kind {
	case CarrierBus:
	case CarrierFile:
		if c.Carrier.File.Path == "" {
			return errors.New("carrier.file.path cannot be empty when carrier.kind is file")
		}
	case CarrierInbox:
		if c.Carrier.Inbox.Dir == "" {
			return errors.New("carrier.inbox.dir cannot be empty when carrier.kind is inbox")
		}
	case CarrierWebSocket:
		if c.Carrier.WebSocket.Listen == "" {
			return errors.New("carrier.websocket.listen cannot be empty when carrier.kind is websocket")
		}
		for _, peer := range c.Carrier.WebSocket.Peers {
			if !strings.HasPrefix(peer, "ws://") && !strings.HasPrefix(peer, "wss://") {
				return errors.Newf("carrier.websocket.peers: %q is not a ws:// or wss:// url", peer)
			}
		}
	default:
		return errors.Newf("carrier.kind must be one of bus, file, inbox, websocket; got %q", c.Carrier.Kind)
	}

	// Sandbox settings only matter when it runs
	if c.Sandbox.Enabled {
		if c.Sandbox.Binary == "" {
			return errors.New("sandbox.binary cannot be empty when enabled")
		}
		if c.Sandbox.CallTimeoutSeconds <= 0 {
			return errors.Newf("sandbox.call_timeout_seconds must be > 0, got %d", c.Sandbox.CallTimeoutSeconds)
		}
		for handle, path := range c.Sandbox.Modules {
			if path == "" {
				return errors.Newf("sandbox.modules.%s has no path", handle)
			}
		}
		for _, p := range c.Sandbox.Permissions {
			if !sandboxPermissions[p] {
				return errors.Newf("sandbox.permissions: unknown permission %q (want read, write, net, env, run)", p)
			}
		}
	}

	// 0 = unlimited, negative = invalid
	if c.Ledger.RatePerSecond < 0 {
		return errors.Newf("ledger.rate_per_second must be >= 0, got %f", c.Ledger.RatePerSecond)
	}
	if c.Ledger.RatePerSecond > 0 && c.Ledger.Burst < 1 {
		return errors.Newf("ledger.burst must be >= 1 when rate limited, got %d", c.Ledger.Burst)
	}

	seen := make(map[string]bool, len(c.Neighbourhoods))
	for i, n := range c.Neighbourhoods {
		if !strings.HasPrefix(n.URL, neighbourhoodScheme) {
			return errors.Newf("neighbourhoods[%d].url must start with %s, got %q", i, neighbourhoodScheme, n.URL)
		}
		if n.Language == "" {
			return errors.Newf("neighbourhoods[%d].language cannot be empty", i)
		}
		if seen[n.URL] {
			return errors.Newf("neighbourhoods[%d]: %s listed twice", i, n.URL)
		}
		seen[n.URL] = true
	}
	return nil
}
