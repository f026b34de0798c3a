// Package config provides TOML configuration file loading and parsing for the
// gateway. The configuration file lives at ~/.pairgate/config.toml by default,
// but can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the gateway configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port for the gateway HTTP API.
	// Default: 127.0.0.1:8070
	Addr string `toml:"addr"`

	// UpstreamURL is the WebSocket URL of the messaging network relay.
	// Default: wss://relay.pairgate.dev/ws
	UpstreamURL string `toml:"upstream_url"`

	// ClientName is the client identity string announced to the messaging
	// network when opening a connection.
	// Default: pairgate
	ClientName string `toml:"client_name"`

	// StoreBackend selects the credential store implementation: "sqlite" or "file".
	// Default: sqlite
	StoreBackend string `toml:"store_backend"`

	// StorePath is the SQLite database path (sqlite backend) or the root
	// directory for per-session credential directories (file backend).
	// Default: ~/.pairgate/pairgate.db (sqlite) or ~/.pairgate/auth (file)
	StorePath string `toml:"store_path"`

	// MaxSessions is the maximum number of concurrent sessions.
	// Default: 50
	MaxSessions int `toml:"max_sessions"`

	// AuthTimeoutSec is the challenge window in seconds: a session that has
	// not authenticated within this window fails.
	// Default: 120
	AuthTimeoutSec int `toml:"auth_timeout_sec"`

	// MaxReconnectAttempts caps reconnect attempts after a transient close.
	// Default: 10
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`

	// ReconnectMinMs is the initial reconnect backoff in milliseconds.
	// Default: 1000
	ReconnectMinMs int `toml:"reconnect_min_ms"`

	// ReconnectMaxMs is the backoff ceiling in milliseconds.
	// Default: 30000
	ReconnectMaxMs int `toml:"reconnect_max_ms"`

	// UsePairCode selects the numeric pairing-code flow instead of the QR
	// flow. Requires an owner identifier on each creation request.
	// Default: false (QR flow)
	UsePairCode bool `toml:"use_pair_code"`

	// NotifyOwner sends the pairing code to the owner identifier as a
	// one-time message once the session connects. The message contains the
	// plaintext pairing code, so this is opt-in.
	// Default: false
	NotifyOwner bool `toml:"notify_owner"`

	// MdnsEnabled enables mDNS/Bonjour advertisement of the gateway API on
	// the local network. Discovery only reveals presence; pairing codes are
	// still required.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`
}

// DefaultConfigPath returns the default config file location: ~/.pairgate/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".pairgate", "config.toml"), nil
}

// DefaultStorePath returns the default SQLite credential store location.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".pairgate", "pairgate.db"), nil
}

// WriteDefault creates a config file with sane defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# Pairgate configuration
# Created by 'pairgate serve'

# Listen address for the gateway HTTP API
addr = "127.0.0.1:8070"

# WebSocket relay of the messaging network
upstream_url = "wss://relay.pairgate.dev/ws"

# Concurrent session ceiling
max_sessions = 50
`

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.pairgate/config.toml). Returns an empty Config without error if the
//     default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
