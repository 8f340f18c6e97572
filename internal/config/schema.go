package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Service    ServiceConfig    `yaml:"service"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Connection ConnectionConfig `yaml:"connection"`
	Registry   RegistryConfig   `yaml:"registry"`
	API        APIConfig        `yaml:"api"`
}

// ServiceConfig describes the fixed endpoints the appliance exposes.
// The port is constant across the system: it carries the handshake
// probe, the capability fetch, and the streaming upgrade.
type ServiceConfig struct {
	Port       int    `yaml:"port"`
	StatusPath string `yaml:"status_path"`
	StreamPath string `yaml:"stream_path"`
}

// DiscoveryConfig tunes the probe fan-out
type DiscoveryConfig struct {
	// ReachabilityTimeout bounds the initial ping of a candidate
	ReachabilityTimeout Duration `yaml:"reachability_timeout"`
	// HandshakeTimeout bounds the TCP connect to the service port
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	// CapabilityTimeout bounds the best-effort status fetch
	CapabilityTimeout Duration `yaml:"capability_timeout"`
	// BatchSize limits concurrent probes per subnet
	BatchSize int `yaml:"batch_size"`
	// Hostnames are well-known names probed alongside the subnet sweep
	Hostnames []string `yaml:"hostnames,omitempty"`
	// UseNmap enables the nmap fast sweep when the binary is available
	UseNmap bool `yaml:"use_nmap"`
	// SkipReachability disables the ping step (networks that drop ICMP)
	SkipReachability bool `yaml:"skip_reachability"`
}

// ConnectionConfig tunes the connection manager
type ConnectionConfig struct {
	// ConnectTimeout bounds connect() from dial to open signal
	ConnectTimeout Duration `yaml:"connect_timeout"`
	// HeartbeatInterval is the period of the liveness timer
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	// DeadFactor: no inbound traffic for DeadFactor*HeartbeatInterval
	// means the peer is treated as dead
	DeadFactor int `yaml:"dead_factor"`
	// MaxReconnectAttempts caps the automatic reconnection loop
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	// ReconnectDelay is the fixed wait between reconnect attempts
	ReconnectDelay Duration `yaml:"reconnect_delay"`
}

// RegistryConfig holds device registry settings
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// APIConfig holds the local status API settings
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
