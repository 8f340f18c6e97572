// Package discovery locates voice devices on the local network by
// sweeping attached subnets and probing well-known hostnames.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"voicebridge/internal/config"
	"voicebridge/internal/device"
	"voicebridge/internal/event"
)

// ErrBusy is returned when a discovery session is already running.
var ErrBusy = errors.New("discovery already in progress")

// CompletedPayload is the discovery_completed event payload.
type CompletedPayload struct {
	SessionID string          `json:"session_id"`
	Devices   []device.Device `json:"devices"`
	Elapsed   string          `json:"elapsed"`
}

// FailedPayload is the discovery_failed event payload.
type FailedPayload struct {
	Error string `json:"error"`
}

// Engine runs discovery sessions. At most one session is active at a
// time; concurrent Discover calls are rejected rather than queued.
type Engine struct {
	cfg *config.Config
	bus *event.Bus

	prober    Prober
	sweeper   *NmapSweeper
	enumerate func() ([]subnet, error)
	resolve   func(ctx context.Context, hostname string) (string, error)

	mu      sync.Mutex
	running bool
}

// New builds an Engine wired to the real network. The nmap short-list
// pass is only attached when enabled in config and the binary is
// usable.
func New(cfg *config.Config, bus *event.Bus) *Engine {
	e := &Engine{
		cfg:       cfg,
		bus:       bus,
		prober:    newNetProber(cfg),
		enumerate: localSubnets,
		resolve:   resolveIPv4,
	}
	if cfg.Discovery.UseNmap {
		sweeper := NewNmapSweeper(cfg.Service.Port)
		if sweeper.Available(context.Background()) {
			e.sweeper = sweeper
		} else {
			log.Printf("discovery: nmap requested but not usable, falling back to full sweeps")
		}
	}
	return e
}

// InProgress reports whether a session is currently running.
func (e *Engine) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Discover sweeps every attached subnet plus the configured well-known
// hostnames, publishing device_discovered events as probes succeed and
// one discovery_completed event at the end. If a session is already
// running it returns ErrBusy immediately without starting any probes.
func (e *Engine) Discover(ctx context.Context) ([]device.Device, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		log.Printf("discovery: session already in progress, ignoring request")
		return nil, ErrBusy
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	subnets, err := e.enumerate()
	if err != nil {
		log.Printf("discovery: subnet enumeration failed: %v", err)
		e.bus.Publish(event.Event{
			Type:    event.EventDiscoveryFailed,
			Payload: FailedPayload{Error: err.Error()},
		})
		return nil, fmt.Errorf("enumerate subnets: %w", err)
	}

	s := newSession()
	started := time.Now()
	log.Printf("discovery: session %s started (%d subnets, %d hostnames)",
		s.id, len(subnets), len(e.cfg.Discovery.Hostnames))

	var wg sync.WaitGroup
	for _, sn := range subnets {
		wg.Add(1)
		go func(sn subnet) {
			defer wg.Done()
			e.scanSubnet(ctx, sn, s)
		}(sn)
	}
	for _, hostname := range e.cfg.Discovery.Hostnames {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			if d, ok := e.findDevice(ctx, h, func(found device.Device) { e.noteDevice(s, found) }); ok {
				s.replace(d)
			}
		}(hostname)
	}
	wg.Wait()

	devices := s.devices()
	elapsed := time.Since(started).Round(time.Millisecond)
	log.Printf("discovery: session %s completed, %d device(s) in %v", s.id, len(devices), elapsed)

	e.bus.Publish(event.Event{
		Type: event.EventDiscoveryCompleted,
		Payload: CompletedPayload{
			SessionID: s.id,
			Devices:   devices,
			Elapsed:   elapsed.String(),
		},
	})
	return devices, nil
}

// FindDevice validates or refreshes a single hostname without a full
// sweep. It never errors; an unresolvable or unresponsive hostname is
// simply not a device.
func (e *Engine) FindDevice(ctx context.Context, hostname string) (device.Device, bool) {
	d, ok := e.findDevice(ctx, hostname, nil)
	if !ok {
		return device.Device{}, false
	}
	e.bus.Publish(event.Event{Type: event.EventDeviceDiscovered, Payload: d})
	return d, true
}

// findDevice resolves a hostname and runs the probe sequence against
// the resolved address, skipping the reachability ping since DNS
// resolution already implies presence.
func (e *Engine) findDevice(ctx context.Context, hostname string, found func(device.Device)) (device.Device, bool) {
	address, err := e.resolve(ctx, hostname)
	if err != nil {
		log.Printf("discovery: resolve %s: %v", hostname, err)
		return device.Device{}, false
	}

	d, ok := e.prober.Probe(ctx, address, false, func(d device.Device) {
		d.Hostname = hostname
		if found != nil {
			found(d)
		}
	})
	if !ok {
		return device.Device{}, false
	}
	d.Hostname = hostname
	return d, true
}

// scanSubnet probes every host candidate in the subnet, at most
// BatchSize probes in flight at once.
func (e *Engine) scanSubnet(ctx context.Context, sn subnet, s *session) {
	candidates := sn.HostCandidates()
	checkReach := true

	if e.sweeper != nil {
		short, err := e.sweeper.Sweep(ctx, sn.CIDR())
		if err != nil {
			log.Printf("discovery: nmap sweep of %s failed, falling back to full sweep: %v", sn.CIDR(), err)
		} else {
			// nmap already established the port is open; skip the ping
			candidates = short
			checkReach = false
		}
	}

	sem := make(chan struct{}, e.cfg.Discovery.BatchSize)
	var wg sync.WaitGroup

	for _, address := range candidates {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			defer func() { <-sem }()

			d, ok := e.prober.Probe(ctx, address, checkReach, func(found device.Device) {
				e.noteDevice(s, found)
			})
			if ok {
				s.replace(d)
			}
		}(address)
	}
	wg.Wait()
}

// noteDevice records a device in the session and, if it is new,
// announces it.
func (e *Engine) noteDevice(s *session, d device.Device) {
	if s.add(d) {
		log.Printf("discovery: found device at %s", d.Key())
		e.bus.Publish(event.Event{Type: event.EventDeviceDiscovered, Payload: d})
	}
}

// resolveIPv4 returns the first IPv4 address a hostname resolves to.
func resolveIPv4(ctx context.Context, hostname string) (string, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ip4 := addr.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no IPv4 address for %s", hostname)
}
