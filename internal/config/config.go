// Package config provides configuration management for VoiceBridge.
//
// Config file locations (priority order):
//  1. $VOICEBRIDGE_CONFIG
//  2. ./voicebridge.yaml
//  3. $XDG_CONFIG_HOME/voicebridge/config.yaml
//  4. ~/.config/voicebridge/config.yaml
//  5. /etc/voicebridge/config.yaml
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Service.Port == 0 {
		c.Service.Port = 8000
	}
	if c.Service.StatusPath == "" {
		c.Service.StatusPath = "/system/info"
	}
	if c.Service.StreamPath == "" {
		c.Service.StreamPath = "/ws"
	}

	if c.Discovery.ReachabilityTimeout == 0 {
		c.Discovery.ReachabilityTimeout = Duration(1 * time.Second)
	}
	if c.Discovery.HandshakeTimeout == 0 {
		c.Discovery.HandshakeTimeout = Duration(3 * time.Second)
	}
	if c.Discovery.CapabilityTimeout == 0 {
		c.Discovery.CapabilityTimeout = Duration(5 * time.Second)
	}
	if c.Discovery.BatchSize == 0 {
		c.Discovery.BatchSize = 50
	}
	if len(c.Discovery.Hostnames) == 0 {
		c.Discovery.Hostnames = []string{"voicebridge.local", "raspberrypi.local", "voicebridge"}
	}

	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = Duration(10 * time.Second)
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = Duration(30 * time.Second)
	}
	if c.Connection.DeadFactor == 0 {
		c.Connection.DeadFactor = 4
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = 5
	}
	if c.Connection.ReconnectDelay == 0 {
		c.Connection.ReconnectDelay = Duration(5 * time.Second)
	}

	if c.Registry.Path == "" {
		c.Registry.Path = "./voicebridge.db"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":3210"
	}
}
