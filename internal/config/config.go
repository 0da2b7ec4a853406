// Package config loads the relay's optional TOML configuration and the
// tunnel client's persisted JSON state plus its optional YAML
// configuration, per spec.md §6 and SPEC_FULL.md §4.9.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoggingConfig configures the ambient logging.Runtime both binaries build
// at startup.
type LoggingConfig struct {
	Level     string `toml:"level" yaml:"level"`
	Format    string `toml:"format" yaml:"format"`
	Output    string `toml:"output" yaml:"output"`
	AddSource bool   `toml:"add_source" yaml:"add_source"`
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json", Output: "stderr"}
}

// QUICConfig names the certificate/key pair a relay's QUIC transport loads,
// or auto-generates a self-signed pair when both are empty.
type QUICConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// RelayConfig is the relay's optional TOML configuration file. The
// normative positional bind_addr CLI argument overrides BindAddr when
// given.
type RelayConfig struct {
	BindAddr  string        `toml:"bind_addr"`
	Transport string        `toml:"transport"`
	QUIC      QUICConfig    `toml:"quic"`
	Logging   LoggingConfig `toml:"logging"`
}

// DefaultRelayConfig is what the relay runs with when no config file is
// found.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BindAddr:  "127.0.0.1:25565",
		Transport: "tcp",
		Logging:   defaultLoggingConfig(),
	}
}

// LoadRelayConfig reads and decodes a relay TOML config file. A missing
// path (empty string, or a file that does not exist) yields the defaults,
// not an error — the relay is runnable with zero configuration.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return RelayConfig{}, fmt.Errorf("config: decode relay config %s: %w", path, err)
	}
	return cfg, nil
}

// TunnelClientConfig is the tunnel client's optional YAML configuration:
// transport selection and logging. It is deliberately separate from the
// persisted JSON state below (machine-written, not meant for hand
// editing).
type TunnelClientConfig struct {
	Transport string        `yaml:"transport"`
	Logging   LoggingConfig `yaml:"logging"`
}

// DefaultTunnelClientConfig is what the tunnel client runs with when no
// YAML config file is found.
func DefaultTunnelClientConfig() TunnelClientConfig {
	return TunnelClientConfig{
		Transport: "tcp",
		Logging:   defaultLoggingConfig(),
	}
}

// LoadTunnelClientConfig reads and decodes the tunnel client's optional
// YAML config file. A missing path yields the defaults.
func LoadTunnelClientConfig(path string) (TunnelClientConfig, error) {
	cfg := DefaultTunnelClientConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return TunnelClientConfig{}, fmt.Errorf("config: read tunnel client config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TunnelClientConfig{}, fmt.Errorf("config: decode tunnel client config %s: %w", path, err)
	}
	return cfg, nil
}

// AuthRecord is a tunnel client's persisted private key, hex-encoded PKCS8
// (see identity.PrivateKey.EncodeHex).
type AuthRecord struct {
	Key string `json:"Key"`
}

// TunnelRecord is one saved tunnel: which relay to dial, which local
// Minecraft server to forward to, and the identity to authenticate with.
type TunnelRecord struct {
	Server string     `json:"server"`
	Local  string     `json:"local"`
	Auth   AuthRecord `json:"auth"`
}

// TunnelClientState is the tunnel client's persisted state: a flat JSON
// array of saved tunnels, read at startup and written on graceful exit.
type TunnelClientState []TunnelRecord

// LoadTunnelClientState reads the persisted state file. A missing file
// yields an empty state, not an error — there is nothing to restore on
// first run.
func LoadTunnelClientState(path string) (TunnelClientState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TunnelClientState{}, nil
		}
		return nil, fmt.Errorf("config: read tunnel client state %s: %w", path, err)
	}
	var state TunnelClientState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("config: decode tunnel client state %s: %w", path, err)
	}
	return state, nil
}

// Save writes the state file atomically: encode to a temp file in the same
// directory, then rename over path.
func (s TunnelClientState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode tunnel client state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write tunnel client state %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename tunnel client state %s: %w", tmp, err)
	}
	return nil
}
