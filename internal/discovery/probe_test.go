package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"voicebridge/internal/device"
)

// testProber builds a netProber aimed at an httptest server, with the
// reachability ping stubbed out.
func testProber(t *testing.T, srv *httptest.Server, statusPath string) (*netProber, string) {
	t.Helper()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}

	p := &netProber{
		port:             port,
		statusPath:       statusPath,
		handshakeTimeout: time.Second,
		capTimeout:       time.Second,
		skipReach:        true,
		ping: func(ctx context.Context, address string, timeout time.Duration) bool {
			return true
		},
		client: &http.Client{Timeout: time.Second},
	}
	return p, u.Hostname()
}

func TestProbeQualifiesDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system/info" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"kitchen-listener","version":"1.2.0","model":"pi-zero-2w"}`))
	}))
	defer srv.Close()

	p, host := testProber(t, srv, "/system/info")

	var early []string
	d, ok := p.Probe(context.Background(), host, true, func(found device.Device) {
		early = append(early, found.Key())
	})
	if !ok {
		t.Fatal("expected probe to succeed")
	}
	if d.Address != host || d.Port != p.port {
		t.Errorf("unexpected device identity %s", d.Key())
	}
	if d.Capabilities == nil || d.Capabilities.Name != "kitchen-listener" {
		t.Errorf("expected capabilities from status endpoint, got %+v", d.Capabilities)
	}
	if len(early) != 1 || early[0] != d.Key() {
		t.Errorf("expected one early notification for %s, got %v", d.Key(), early)
	}
	if d.LastSeen.IsZero() {
		t.Error("expected LastSeen to be set")
	}
}

func TestProbeToleratesBrokenStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, host := testProber(t, srv, "/system/info")

	d, ok := p.Probe(context.Background(), host, true, nil)
	if !ok {
		t.Fatal("device with a broken status endpoint is still a device")
	}
	if d.Capabilities != nil {
		t.Errorf("expected nil capabilities, got %+v", d.Capabilities)
	}
}

func TestProbeFailsClosedPort(t *testing.T) {
	// Grab a port that is definitely closed by listening and releasing it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p := &netProber{
		port:             port,
		statusPath:       "/system/info",
		handshakeTimeout: 200 * time.Millisecond,
		capTimeout:       time.Second,
		skipReach:        true,
		client:           &http.Client{Timeout: time.Second},
	}

	if _, ok := p.Probe(context.Background(), "127.0.0.1", false, nil); ok {
		t.Fatal("expected probe against closed port to fail")
	}
}

func TestProbeFailsUnreachableHost(t *testing.T) {
	p := &netProber{
		port:             8000,
		reachTimeout:     100 * time.Millisecond,
		handshakeTimeout: 100 * time.Millisecond,
		capTimeout:       time.Second,
		ping: func(ctx context.Context, address string, timeout time.Duration) bool {
			return false
		},
		client: &http.Client{Timeout: time.Second},
	}

	if _, ok := p.Probe(context.Background(), "10.255.255.1", true, nil); ok {
		t.Fatal("expected probe against unreachable host to fail")
	}
}
