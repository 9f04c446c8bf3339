package config

import (
	"context"
	"testing"
)

func TestResolveClientsLocalhost(t *testing.T) {
	cfg := &Config{
		ListenPort: 4242,
		Clients: []ClientEntry{
			{Hostname: "localhost", Ports: []int{4242}, Position: "right"},
		},
	}
	resolved, err := ResolveClients(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ResolveClients: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("resolved %d clients, want 1", len(resolved))
	}
	if len(resolved[0].Addrs) == 0 {
		t.Fatal("expected at least one resolved address for localhost")
	}
	if resolved[0].Position.String() != "right" {
		t.Errorf("Position = %v, want right", resolved[0].Position)
	}
}

func TestResolveClientsUnknownHostErrors(t *testing.T) {
	cfg := &Config{
		Clients: []ClientEntry{
			{Hostname: "this-host-should-not-resolve.invalid", Ports: []int{4242}, Position: "left"},
		},
	}
	if _, err := ResolveClients(context.Background(), cfg); err == nil {
		t.Fatal("expected an error resolving an invalid hostname")
	}
}
