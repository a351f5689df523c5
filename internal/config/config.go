// Package config holds the broker and peer configuration structs,
// defaults, and YAML loading, following the teacher's
// Load-then-validate convention.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/NadimGhaznavi/hydra-router/internal/envelope"
	"github.com/NadimGhaznavi/hydra-router/internal/herrors"
	"gopkg.in/yaml.v3"
)

// BrokerConfig matches spec.md §6's broker construction-time options.
type BrokerConfig struct {
	Address                string        `yaml:"address"`
	Port                   int           `yaml:"port"`
	LogLevel               string        `yaml:"log_level"`
	ClientTimeout          time.Duration `yaml:"-"`
	ClientTimeoutSeconds   float64       `yaml:"client_timeout"`
	MaxClients             int           `yaml:"max_clients"`
	HeartbeatCheckInterval time.Duration `yaml:"-"`
}

// DefaultBrokerConfig returns the defaults named in spec.md §6.
func DefaultBrokerConfig() BrokerConfig {
	c := BrokerConfig{
		Address:              "127.0.0.1",
		Port:                 5556,
		LogLevel:             "INFO",
		ClientTimeoutSeconds: 30.0,
		MaxClients:           100,
	}
	c.Resolve()
	return c
}

// Resolve recomputes ClientTimeout and HeartbeatCheckInterval from
// ClientTimeoutSeconds. Call it after mutating ClientTimeoutSeconds
// directly (tests; YAML unmarshal).
func (c *BrokerConfig) Resolve() {
	c.ClientTimeout = time.Duration(c.ClientTimeoutSeconds * float64(time.Second))
	interval := c.ClientTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	c.HeartbeatCheckInterval = interval
}

// LoadBrokerConfig reads a YAML file as a base layer; zero-value fields
// left unset after decode fall back to DefaultBrokerConfig, mirroring the
// teacher's file-config-as-base/support-service-overrides merge strategy
// (here: file provides the base, CLI flags applied by the caller win).
func LoadBrokerConfig(path string) (BrokerConfig, error) {
	cfg := DefaultBrokerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, herrors.New(herrors.ConfigError, "config", "failed to read broker config file").WithField("path", path).WithField("error", err.Error())
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, herrors.New(herrors.ConfigError, "config", "failed to parse broker config YAML").WithField("path", path).WithField("error", err.Error())
	}
	cfg.Resolve()
	return cfg, cfg.Validate()
}

// Validate enforces the invariants a broker must hold to start.
func (c BrokerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return herrors.New(herrors.ConfigError, "config", "port out of range").WithField("port", c.Port)
	}
	if c.MaxClients <= 0 {
		return herrors.New(herrors.ConfigError, "config", "max_clients must be positive").WithField("max_clients", c.MaxClients)
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return herrors.New(herrors.ConfigError, "config", "unrecognized log level").WithField("log_level", c.LogLevel)
	}
	return nil
}

func (c BrokerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// PeerConfig matches spec.md §6's peer construction-time options.
type PeerConfig struct {
	RouterAddress             string           `yaml:"router_address"`
	PeerType                  envelope.PeerType `yaml:"peer_type"`
	ClientID                  string           `yaml:"client_id"`
	HeartbeatIntervalSeconds  float64          `yaml:"heartbeat_interval"`
	RequestTimeoutDefaultSecs float64          `yaml:"request_timeout_default"`
	MaxMessageBytes           int              `yaml:"max_message_bytes"`
}

func DefaultPeerConfig(routerAddress string, peerType envelope.PeerType) PeerConfig {
	return PeerConfig{
		RouterAddress:             routerAddress,
		PeerType:                  peerType,
		HeartbeatIntervalSeconds:  5.0,
		RequestTimeoutDefaultSecs: 10.0,
		MaxMessageBytes:           65536,
	}
}

func (c PeerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds * float64(time.Second))
}

func (c PeerConfig) RequestTimeoutDefault() time.Duration {
	return time.Duration(c.RequestTimeoutDefaultSecs * float64(time.Second))
}

// Validate enforces that PeerType belongs to the recognized set.
func (c PeerConfig) Validate() error {
	if !envelope.ValidPeerTypes[c.PeerType] {
		return herrors.New(herrors.ConfigError, "config", "peer_type not recognized").WithField("peer_type", string(c.PeerType))
	}
	if c.RouterAddress == "" {
		return herrors.New(herrors.ConfigError, "config", "router_address is required")
	}
	return nil
}
