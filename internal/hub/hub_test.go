package hub

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voicebridge/internal/event"
)

func TestBroadcastReachesSubscriber(t *testing.T) {
	h := New()
	go h.Run()

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	// First line is the connection comment.
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if !strings.HasPrefix(line, ":") {
		t.Fatalf("expected comment line, got %q", line)
	}

	// Wait for registration before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}

	h.Broadcast(event.Event{
		Type:    event.EventDeviceDiscovered,
		Payload: map[string]string{"address": "192.168.1.50"},
	})

	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		got = append(got, line)
	}

	if got[0] != "event: device_discovered" {
		t.Errorf("unexpected event line %q", got[0])
	}
	if !strings.Contains(got[1], "192.168.1.50") {
		t.Errorf("unexpected data line %q", got[1])
	}
}

func TestClientCountTracksDisconnect(t *testing.T) {
	h := New()
	go h.Run()

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}

	resp.Body.Close()

	deadline = time.Now().Add(2 * time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
