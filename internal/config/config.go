// Package config loads the host's TOML configuration file. The file
// lives at ~/.lumen/config.toml by default and can be overridden with
// the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the host configuration file structure. Field names
// map to snake_case TOML keys via struct tags.
type Config struct {
	// Host is the hostname or address embedded in session URLs.
	// Default: localhost
	Host string `toml:"host"`

	// Port pins the listener to a fixed port. 0 derives a stable port
	// from the port seed.
	Port int `toml:"port"`

	// PortSeed is the string the derived port is hashed from.
	// Default: "lumen"
	PortSeed string `toml:"port_seed"`

	// Runtime is the default display runtime kind for interactive
	// sessions: browser, node, or notebook.
	// Default: browser
	Runtime string `toml:"runtime"`

	// DBPath is the SQLite database path for the session-event log.
	// Default: ~/.lumen/lumen.db. Empty string with RequireAuth unset
	// still records; set to "off" to disable recording entirely.
	DBPath string `toml:"db_path"`

	// RequireAuth makes every connection present the per-process token.
	// Default: false
	RequireAuth bool `toml:"require_auth"`

	// MdnsEnabled advertises the host on the local network via mDNS.
	// Discovery reveals presence only; the token is still required when
	// RequireAuth is set. Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// QR prints the serving URL as a terminal QR code at startup.
	// Default: false
	QR bool `toml:"qr"`

	// PendingExpirySecs closes pending sessions whose runtime never
	// connected after this many seconds. 0 disables the sweep and lets
	// sessions stay pending indefinitely. Default: 0
	PendingExpirySecs int `toml:"pending_expiry_secs"`
}

// DefaultConfigPath returns ~/.lumen/config.toml. Errors only if the
// home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".lumen", "config.toml"), nil
}

// DefaultDBPath returns ~/.lumen/lumen.db, creating the parent
// directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".lumen")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return filepath.Join(dir, "lumen.db"), nil
}

// Load reads a TOML config file.
//
//   - Empty path: load from the default location, returning defaults
//     without error if no file exists there.
//   - Explicit path: the file must exist and parse.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Host:    "localhost",
		Runtime: "browser",
	}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
