package registry

import (
	"net/netip"
	"testing"

	"github.com/breeze-rmm/lanmouse/internal/proto"
)

func addr(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func TestAddressStickiness(t *testing.T) {
	r := New()
	a1 := addr("10.0.0.2:4242")
	h := r.Add(Config{Hostname: "a", Addrs: []netip.AddrPort{a1}, Position: proto.Left})

	got, ok := r.GetClient(a1)
	if !ok || got != h {
		t.Fatalf("GetClient(%v) = %v, %v; want %v, true", a1, got, ok, h)
	}

	r.RouteAddr(h, a1)
	a2 := addr("10.0.0.3:5000")
	r.RouteAddr(h, a2)

	if _, ok := r.GetClient(a1); ok {
		t.Errorf("GetClient(%v) should no longer resolve after address change", a1)
	}
	if got, ok := r.GetClient(a2); !ok || got != h {
		t.Errorf("GetClient(%v) = %v, %v; want %v, true", a2, got, ok, h)
	}
}

func TestDoubleKeyFilter(t *testing.T) {
	r := New()
	h := r.Add(Config{Hostname: "a"})

	if !r.TogglePressed(h, 30, true) {
		t.Error("first press should forward")
	}
	if r.TogglePressed(h, 30, true) {
		t.Error("duplicate press should be suppressed")
	}
	if !r.TogglePressed(h, 30, false) {
		t.Error("first release should forward")
	}
	if r.TogglePressed(h, 30, false) {
		t.Error("duplicate release should be suppressed")
	}
}

func TestDrainPressedEmptiesState(t *testing.T) {
	r := New()
	h := r.Add(Config{Hostname: "a"})
	r.TogglePressed(h, 17, true)
	r.TogglePressed(h, 31, true)

	keys := r.DrainPressed(h)
	if len(keys) != 2 {
		t.Fatalf("DrainPressed returned %d keys, want 2", len(keys))
	}
	if r.AnyPressed(h) {
		t.Error("AnyPressed should be false after drain")
	}
	if len(r.DrainPressed(h)) != 0 {
		t.Error("second drain should be empty")
	}
}

func TestActiveClients(t *testing.T) {
	r := New()
	h1 := r.Add(Config{Hostname: "a"})
	h2 := r.Add(Config{Hostname: "b"})

	r.SetActive(h1, true)
	active := r.ActiveClients()
	if len(active) != 1 || active[0] != h1 {
		t.Fatalf("ActiveClients = %v, want [%v]", active, h1)
	}

	r.SetActive(h2, true)
	active = r.ActiveClients()
	if len(active) != 1 || active[0] != h2 {
		t.Fatalf("ActiveClients = %v, want [%v] (only one active at a time)", active, h2)
	}
}

func TestRemoveClearsIndex(t *testing.T) {
	r := New()
	a1 := addr("10.0.0.2:4242")
	h := r.Add(Config{Hostname: "a", Addrs: []netip.AddrPort{a1}})
	r.Remove(h)

	if _, ok := r.GetClient(a1); ok {
		t.Error("GetClient should fail after Remove")
	}
	if _, ok := r.Config(h); ok {
		t.Error("Config should fail after Remove")
	}
}
