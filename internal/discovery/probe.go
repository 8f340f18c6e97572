package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"voicebridge/internal/config"
	"voicebridge/internal/device"
)

// Prober qualifies a single candidate address as a voice device.
//
// The found callback, when non-nil, fires as soon as the service port
// handshake succeeds, before the slower capability and hardware-address
// enrichment steps. The returned Device carries the fully enriched
// record.
type Prober interface {
	Probe(ctx context.Context, address string, checkReach bool, found func(device.Device)) (device.Device, bool)
}

// pingFunc reports whether an address answers an ICMP echo within the
// timeout. Swapped for a stub in tests.
type pingFunc func(ctx context.Context, address string, timeout time.Duration) bool

// netProber is the production Prober: ping, TCP handshake, HTTP
// capability fetch, neighbor-table MAC lookup.
type netProber struct {
	port       int
	statusPath string

	reachTimeout     time.Duration
	handshakeTimeout time.Duration
	capTimeout       time.Duration
	skipReach        bool

	ping   pingFunc
	client *http.Client
}

func newNetProber(cfg *config.Config) *netProber {
	return &netProber{
		port:             cfg.Service.Port,
		statusPath:       cfg.Service.StatusPath,
		reachTimeout:     cfg.Discovery.ReachabilityTimeout.Duration(),
		handshakeTimeout: cfg.Discovery.HandshakeTimeout.Duration(),
		capTimeout:       cfg.Discovery.CapabilityTimeout.Duration(),
		skipReach:        cfg.Discovery.SkipReachability,
		ping:             systemPing,
		client:           &http.Client{Timeout: cfg.Discovery.CapabilityTimeout.Duration()},
	}
}

func (p *netProber) Probe(ctx context.Context, address string, checkReach bool, found func(device.Device)) (device.Device, bool) {
	if checkReach && !p.skipReach && !p.ping(ctx, address, p.reachTimeout) {
		return device.Device{}, false
	}

	if !p.handshake(ctx, address) {
		return device.Device{}, false
	}

	d := device.Device{
		Address:  address,
		Port:     p.port,
		LastSeen: time.Now(),
	}
	if found != nil {
		found(d)
	}

	// Enrichment is best-effort: a device that answers on the service
	// port but has a broken status endpoint is still a device.
	d.Capabilities = p.fetchCapabilities(ctx, address)
	d.HardwareAddress = lookupHardwareAddr(ctx, address)

	return d, true
}

// handshake verifies the service port accepts TCP connections.
func (p *netProber) handshake(ctx context.Context, address string) bool {
	dialer := net.Dialer{Timeout: p.handshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(p.port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// fetchCapabilities pulls the device's self-description from its status
// endpoint. Returns nil on any failure.
func (p *netProber) fetchCapabilities(ctx context.Context, address string) *device.Capabilities {
	ctx, cancel := context.WithTimeout(ctx, p.capTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(address, strconv.Itoa(p.port)), p.statusPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var caps device.Capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil
	}
	return &caps
}

// systemPing shells out to the OS ping utility for a single echo
// request. Raw ICMP sockets need elevated privileges; the system
// binary has them already.
func systemPing(ctx context.Context, address string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	var args []string
	switch runtime.GOOS {
	case "windows":
		args = []string{"-n", "1", "-w", strconv.Itoa(secs * 1000), address}
	case "darwin":
		args = []string{"-c", "1", "-t", strconv.Itoa(secs), address}
	default:
		args = []string{"-c", "1", "-W", strconv.Itoa(secs), address}
	}

	return exec.CommandContext(ctx, "ping", args...).Run() == nil
}
