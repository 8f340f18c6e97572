// Package device defines the value records produced by discovery and
// consumed by the connection manager.
package device

import (
	"fmt"
	"time"
)

// Device represents one confirmed appliance on the local network.
// Devices are immutable value records: a fresh probe produces a new
// Device rather than mutating an old one, and callers replace stale
// entries by Key() identity.
type Device struct {
	Address         string        `json:"address"`
	Hostname        string        `json:"hostname,omitempty"`
	Port            int           `json:"port"`
	HardwareAddress string        `json:"hardware_address,omitempty"`
	Capabilities    *Capabilities `json:"capabilities,omitempty"`
	LastSeen        time.Time     `json:"last_seen"`
}

// Key returns the address:port identity used for deduplication.
func (d Device) Key() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// DisplayName derives a human-readable name: the remote-reported name,
// else the hostname, else "device@address".
func (d Device) DisplayName() string {
	if d.Capabilities != nil && d.Capabilities.Name != "" {
		return d.Capabilities.Name
	}
	if d.Hostname != "" {
		return d.Hostname
	}
	return "device@" + d.Address
}

// Capabilities is the optional descriptive payload a device reports
// about itself via the status endpoint. Any absent or malformed field
// simply stays zero-valued.
type Capabilities struct {
	Name    string        `json:"name,omitempty"`
	Version string        `json:"version,omitempty"`
	Model   string        `json:"model,omitempty"`
	Serial  string        `json:"serial,omitempty"`
	Status  *SystemStatus `json:"status,omitempty"`
	Audio   *AudioInfo    `json:"audio,omitempty"`
}

// SystemStatus holds the live metrics block of a capability payload.
type SystemStatus struct {
	CPUUsage          float64 `json:"cpu_usage"`
	MemoryUsage       float64 `json:"memory_usage"`
	Temperature       float64 `json:"temperature,omitempty"`
	DiskUsage         float64 `json:"disk_usage"`
	Uptime            string  `json:"uptime,omitempty"`
	Recording         bool    `json:"recording"`
	ActiveConnections int     `json:"active_connections"`
}

// AudioInfo describes the device's audio capture capabilities.
type AudioInfo struct {
	SupportedFormats     []string `json:"supported_formats,omitempty"`
	SupportedSampleRates []int    `json:"supported_sample_rates,omitempty"`
	MaxChannels          int      `json:"max_channels,omitempty"`
	DeviceName           string   `json:"device_name,omitempty"`
	HasMicrophone        bool     `json:"has_microphone"`
}
