package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lanmouse.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if cfg.ListenPort != 4242 {
		t.Errorf("ListenPort = %d, want 4242", cfg.ListenPort)
	}
}

func TestLoadValidClientConfig(t *testing.T) {
	path := writeConfig(t, `
listen_port: 5000
clients:
  - hostname: host-a
    ports: [5000]
    position: left
`)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Clients) != 1 || cfg.Clients[0].Hostname != "host-a" {
		t.Fatalf("Clients = %+v", cfg.Clients)
	}
}

func TestLoadRejectsBadPosition(t *testing.T) {
	path := writeConfig(t, `
clients:
  - hostname: host-a
    position: diagonal
`)
	_, _, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for an invalid position")
	}
}

func TestLoadRejectsMissingHostname(t *testing.T) {
	path := writeConfig(t, `
clients:
  - position: left
`)
	_, _, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for a missing hostname")
	}
}

func TestLoadWarnsOnTTLShorterThanPing(t *testing.T) {
	path := writeConfig(t, `
ping_interval_ms: 5000
ttl_ms: 1000
`)
	_, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning when ttl_ms < ping_interval_ms")
	}
}
