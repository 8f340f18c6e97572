package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voicebridge/internal/config"
	"voicebridge/internal/device"
	"voicebridge/internal/event"
)

// stubProber answers successfully only for the addresses in hits and
// tracks concurrency high-water marks.
type stubProber struct {
	hits  map[string]device.Device
	delay time.Duration

	calls       int32
	inFlight    int32
	maxInFlight int32
}

func (p *stubProber) Probe(ctx context.Context, address string, checkReach bool, found func(device.Device)) (device.Device, bool) {
	atomic.AddInt32(&p.calls, 1)
	cur := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		max := atomic.LoadInt32(&p.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&p.maxInFlight, max, cur) {
			break
		}
	}

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	d, ok := p.hits[address]
	if !ok {
		return device.Device{}, false
	}
	if found != nil {
		found(d)
	}
	return d, true
}

func testEngine(cfg *config.Config, bus *event.Bus, prober Prober, subnets []subnet, resolved map[string]string) *Engine {
	return &Engine{
		cfg:       cfg,
		bus:       bus,
		prober:    prober,
		enumerate: func() ([]subnet, error) { return subnets, nil },
		resolve: func(ctx context.Context, hostname string) (string, error) {
			if addr, ok := resolved[hostname]; ok {
				return addr, nil
			}
			return "", fmt.Errorf("no such host %s", hostname)
		},
	}
}

func testSubnet(t *testing.T, cidr string) subnet {
	t.Helper()
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		t.Fatalf("parse cidr %s: %v", cidr, err)
	}
	return networkOf(ip.To4(), ipnet.Mask)
}

func TestDiscoverDeduplicatesAcrossProbePaths(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discovery.Hostnames = []string{"stub.local"}

	target := device.Device{Address: "10.0.0.42", Port: 8000, LastSeen: time.Now()}
	prober := &stubProber{hits: map[string]device.Device{"10.0.0.42": target}}

	bus := event.NewBus()
	events := make(chan event.Event, 600)
	bus.Subscribe(events)

	// The subnet sweep and the hostname probe both land on 10.0.0.42.
	e := testEngine(cfg, bus, prober, []subnet{testSubnet(t, "10.0.0.0/24")},
		map[string]string{"stub.local": "10.0.0.42"})

	devices, err := e.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device after dedup, got %d", len(devices))
	}
	if devices[0].Key() != "10.0.0.42:8000" {
		t.Errorf("unexpected device %s", devices[0].Key())
	}

	close(events)
	var discovered, completed int
	sawCompleted := false
	for ev := range events {
		switch ev.Type {
		case event.EventDeviceDiscovered:
			discovered++
			if sawCompleted {
				t.Error("device_discovered after discovery_completed")
			}
		case event.EventDiscoveryCompleted:
			completed++
			sawCompleted = true
			payload, ok := ev.Payload.(CompletedPayload)
			if !ok {
				t.Fatalf("unexpected completed payload %T", ev.Payload)
			}
			if payload.SessionID == "" {
				t.Error("expected a session id")
			}
			if len(payload.Devices) != 1 {
				t.Errorf("expected 1 device in completed payload, got %d", len(payload.Devices))
			}
		}
	}
	if discovered != 1 {
		t.Errorf("expected exactly 1 device_discovered event, got %d", discovered)
	}
	if completed != 1 {
		t.Errorf("expected exactly 1 discovery_completed event, got %d", completed)
	}
}

func TestDiscoverBoundsInFlightProbes(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discovery.BatchSize = 10
	cfg.Discovery.Hostnames = nil

	prober := &stubProber{hits: map[string]device.Device{}, delay: 2 * time.Millisecond}
	e := testEngine(cfg, event.NewBus(), prober, []subnet{testSubnet(t, "10.0.0.0/24")}, nil)

	if _, err := e.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if calls := atomic.LoadInt32(&prober.calls); calls != 254 {
		t.Errorf("expected 254 probes, got %d", calls)
	}
	if max := atomic.LoadInt32(&prober.maxInFlight); max > 10 {
		t.Errorf("expected at most 10 in-flight probes, saw %d", max)
	}
}

func TestDiscoverRejectsConcurrentSession(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discovery.Hostnames = nil

	prober := &stubProber{hits: map[string]device.Device{}, delay: 20 * time.Millisecond}
	e := testEngine(cfg, event.NewBus(), prober, []subnet{testSubnet(t, "10.0.0.0/24")}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Discover(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !e.InProgress() {
		if time.Now().After(deadline) {
			t.Fatal("first session never started")
		}
		time.Sleep(time.Millisecond)
	}

	before := atomic.LoadInt32(&prober.calls)
	devices, err := e.Discover(context.Background())
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("busy session returned %d devices", len(devices))
	}
	// The rejected call must not have fanned out any probes of its own;
	// only the first session keeps probing.
	time.Sleep(5 * time.Millisecond)
	if after := atomic.LoadInt32(&prober.calls); after-before > 254 {
		t.Errorf("rejected session appears to have launched probes")
	}

	wg.Wait()
}

func TestDiscoverEnumerationFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discovery.Hostnames = nil

	bus := event.NewBus()
	events := make(chan event.Event, 8)
	bus.Subscribe(events)

	e := testEngine(cfg, bus, &stubProber{}, nil, nil)
	e.enumerate = func() ([]subnet, error) { return nil, errors.New("no interfaces") }

	if _, err := e.Discover(context.Background()); err == nil {
		t.Fatal("expected enumeration error")
	}

	select {
	case ev := <-events:
		if ev.Type != event.EventDiscoveryFailed {
			t.Errorf("expected discovery_failed, got %s", ev.Type)
		}
	default:
		t.Error("expected a discovery_failed event")
	}

	if e.InProgress() {
		t.Error("engine still marked running after failed session")
	}
}

func TestFindDevice(t *testing.T) {
	cfg := config.DefaultConfig()

	target := device.Device{Address: "10.0.0.42", Port: 8000, LastSeen: time.Now()}
	prober := &stubProber{hits: map[string]device.Device{"10.0.0.42": target}}

	bus := event.NewBus()
	events := make(chan event.Event, 8)
	bus.Subscribe(events)

	e := testEngine(cfg, bus, prober, nil, map[string]string{"stub.local": "10.0.0.42"})

	d, ok := e.FindDevice(context.Background(), "stub.local")
	if !ok {
		t.Fatal("expected FindDevice to succeed")
	}
	if d.Hostname != "stub.local" {
		t.Errorf("expected hostname carried through, got %q", d.Hostname)
	}
	if d.Address != "10.0.0.42" {
		t.Errorf("unexpected address %s", d.Address)
	}

	select {
	case ev := <-events:
		if ev.Type != event.EventDeviceDiscovered {
			t.Errorf("expected device_discovered, got %s", ev.Type)
		}
	default:
		t.Error("expected a device_discovered event")
	}
}

func TestFindDeviceNeverErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	prober := &stubProber{hits: map[string]device.Device{}}
	e := testEngine(cfg, event.NewBus(), prober, nil, map[string]string{"dead.local": "10.0.0.9"})

	if _, ok := e.FindDevice(context.Background(), "unresolvable.local"); ok {
		t.Error("unresolvable hostname should not qualify")
	}
	if _, ok := e.FindDevice(context.Background(), "dead.local"); ok {
		t.Error("unresponsive address should not qualify")
	}
}
