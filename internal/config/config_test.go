package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Service.Port != 8000 {
		t.Errorf("expected default service port 8000, got %d", cfg.Service.Port)
	}
	if cfg.Service.StatusPath != "/system/info" {
		t.Errorf("unexpected status path %s", cfg.Service.StatusPath)
	}
	if cfg.Discovery.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", cfg.Discovery.BatchSize)
	}
	if cfg.Connection.HeartbeatInterval.Duration() != 30*time.Second {
		t.Errorf("expected 30s heartbeat, got %v", cfg.Connection.HeartbeatInterval.Duration())
	}
	if cfg.Connection.DeadFactor != 4 {
		t.Errorf("expected dead factor 4, got %d", cfg.Connection.DeadFactor)
	}
	if len(cfg.Discovery.Hostnames) == 0 {
		t.Error("expected default well-known hostnames")
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voicebridge.yaml")

	yaml := `version: 1
service:
  port: 9000
discovery:
  handshake_timeout: 500ms
  batch_size: 10
connection:
  max_reconnect_attempts: 3
  reconnect_delay: 1s
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded != path {
		t.Errorf("expected loaded path %s, got %s", path, loaded)
	}

	if cfg.Service.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Service.Port)
	}
	if cfg.Discovery.HandshakeTimeout.Duration() != 500*time.Millisecond {
		t.Errorf("expected 500ms handshake timeout, got %v", cfg.Discovery.HandshakeTimeout.Duration())
	}
	if cfg.Discovery.BatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", cfg.Discovery.BatchSize)
	}
	if cfg.Connection.MaxReconnectAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Connection.MaxReconnectAttempts)
	}

	// Unspecified values still get defaults
	if cfg.Service.StreamPath != "/ws" {
		t.Errorf("expected default stream path, got %s", cfg.Service.StreamPath)
	}
	if cfg.Connection.ConnectTimeout.Duration() != 10*time.Second {
		t.Errorf("expected default connect timeout, got %v", cfg.Connection.ConnectTimeout.Duration())
	}
}

func TestLoadFromPathBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("service: [not a map"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Service.Port = 8123
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Service.Port != 8123 {
		t.Errorf("expected port 8123 after round trip, got %d", loaded.Service.Port)
	}
}
