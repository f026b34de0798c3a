package config

// DefaultAddr is the default listen address for the gateway HTTP API.
const DefaultAddr = "127.0.0.1:8070"

// DefaultUpstreamURL is the default messaging network relay endpoint.
const DefaultUpstreamURL = "wss://relay.pairgate.dev/ws"

// DefaultClientName is announced to the messaging network on dial.
const DefaultClientName = "pairgate"

// DefaultMaxSessions is the default concurrent session ceiling.
const DefaultMaxSessions = 50

// DefaultAuthTimeoutSec is the default challenge window in seconds.
const DefaultAuthTimeoutSec = 120

// DefaultMaxReconnectAttempts caps reconnects after a transient close.
const DefaultMaxReconnectAttempts = 10

// DefaultReconnectMinMs is the initial reconnect backoff.
const DefaultReconnectMinMs = 1000

// DefaultReconnectMaxMs is the reconnect backoff ceiling.
const DefaultReconnectMaxMs = 30000

// ApplyDefaults fills in zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.UpstreamURL == "" {
		c.UpstreamURL = DefaultUpstreamURL
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.StoreBackend == "" {
		c.StoreBackend = "sqlite"
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.AuthTimeoutSec <= 0 {
		c.AuthTimeoutSec = DefaultAuthTimeoutSec
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectMinMs <= 0 {
		c.ReconnectMinMs = DefaultReconnectMinMs
	}
	if c.ReconnectMaxMs <= 0 {
		c.ReconnectMaxMs = DefaultReconnectMaxMs
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
