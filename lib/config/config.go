// Package config holds the run-time configuration for the tarssh server.
// Values are resolved in three layers: built-in defaults, an optional TOML
// configuration file, and command-line flag overrides applied by the caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Default configuration values
const (
	DefaultListen       = "0.0.0.0:2222"
	DefaultDelaySeconds = 10
	DefaultMetricsAddr  = "127.0.0.1:9323"
	DefaultSessionName  = "tarssh"
	DefaultSAMAddress   = "127.0.0.1:7656"
)

// Config holds all configuration for a tarssh server.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Metrics MetricsConfig `toml:"metrics"`
	I2P     I2PConfig     `toml:"i2p"`
}

// ServerConfig contains the tarpit listener settings.
type ServerConfig struct {
	// Listen is the address the tarpit accepts connections on (host:port)
	Listen string `toml:"listen"`
	// MaxClients is the best-effort cap on concurrent connections; 0 = unbounded
	MaxClients uint `toml:"max_clients"`
	// Delay is the pause between banner writes, in seconds
	Delay uint `toml:"delay"`
}

// MetricsConfig contains the metrics endpoint settings.
type MetricsConfig struct {
	// Enabled controls whether the /metrics HTTP endpoint is served
	Enabled bool `toml:"enabled"`
	// Listen is the address to bind the metrics server to
	Listen string `toml:"listen"`
}

// I2PConfig contains the optional I2P listener settings.
type I2PConfig struct {
	// Enabled switches the tarpit from TCP to an I2P garlic service
	Enabled bool `toml:"enabled"`
	// SessionName identifies the garlic session at the SAM bridge
	SessionName string `toml:"session_name"`
	// SAMAddress is the SAM bridge address (host:port)
	SAMAddress string `toml:"sam_address"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:     DefaultListen,
			MaxClients: 0,
			Delay:      DefaultDelaySeconds,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  DefaultMetricsAddr,
		},
		I2P: I2PConfig{
			Enabled:     false,
			SessionName: DefaultSessionName,
			SAMAddress:  DefaultSAMAddress,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// An empty path or a missing file yields the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if !c.I2P.Enabled {
		if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
			return fmt.Errorf("server.listen: %w", err)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}
	if c.I2P.Enabled {
		if c.I2P.SessionName == "" {
			return errors.New("i2p.session_name is required when i2p is enabled")
		}
		if c.I2P.SAMAddress == "" {
			return errors.New("i2p.sam_address is required when i2p is enabled")
		}
	}
	return nil
}

// DelayDuration returns the configured delay as a time.Duration.
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Server.Delay) * time.Second
}
