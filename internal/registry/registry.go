// Package registry implements the Client Registry: the shared table of
// configured peers and their runtime state, and the address-to-handle
// stickiness index described in the core's data model.
package registry

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/breeze-rmm/lanmouse/internal/proto"
)

// Handle is an opaque stable identifier for a configured peer, assigned by
// the registry on creation.
type Handle uint32

func (h Handle) String() string { return fmt.Sprintf("client-%d", uint32(h)) }

// Config is the static configuration of a peer: hostname, candidate
// addresses resolved from DNS, the screen edge it captures at, and an
// optional hook command run when capture for it begins.
type Config struct {
	Hostname string
	Addrs    []netip.AddrPort
	Position proto.Position
	HookCmd  string
}

// RuntimeState is mutated over the life of a session.
type RuntimeState struct {
	ActiveAddr   netip.AddrPort
	HasActiveAddr bool
	Alive        bool
	PressedKeys  map[uint32]struct{}
}

func newRuntimeState() *RuntimeState {
	return &RuntimeState{PressedKeys: make(map[uint32]struct{})}
}

// entry bundles the config and runtime state that back a single handle.
type entry struct {
	cfg   Config
	state *RuntimeState
	// active marks the handle as the one currently selected for capture
	// (Capture Controller's notion of "the active client"), distinct from
	// RuntimeState.Alive which is the emulation side's liveness flag.
	active bool
}

// Registry is the mutable mapping handle -> (Config, RuntimeState) plus the
// addr -> handle stickiness index. All mutation windows are short and never
// held across a channel receive or other suspension point, matching the
// "borrow never crosses an await" discipline the core requires.
type Registry struct {
	mu      sync.Mutex
	next    Handle
	clients map[Handle]*entry
	byAddr  map[netip.AddrPort]Handle
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		clients: make(map[Handle]*entry),
		byAddr:  make(map[netip.AddrPort]Handle),
	}
}

// Add registers a new configured peer and returns its handle.
func (r *Registry) Add(cfg Config) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.clients[h] = &entry{cfg: cfg, state: newRuntimeState()}
	for _, addr := range cfg.Addrs {
		r.byAddr[addr] = h
	}
	return h
}

// Remove deletes a handle and its address index entries.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[h]
	if !ok {
		return
	}
	for _, addr := range e.cfg.Addrs {
		delete(r.byAddr, addr)
	}
	if e.state.HasActiveAddr {
		delete(r.byAddr, e.state.ActiveAddr)
	}
	delete(r.clients, h)
}

// GetClient implements the address-to-handle lookup (P2): once resolved,
// an address routes to the same handle until the registry or the address
// itself changes, because RouteAddr below records the winning address in
// the addr -> handle index, which is the only thing this method reads.
func (r *Registry) GetClient(addr netip.AddrPort) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byAddr[addr]
	return h, ok
}

// RouteAddr records addr as the active address for h, making subsequent
// GetClient(addr) calls resolve to h directly. Call this once per inbound
// datagram after the initial address-to-handle lookup succeeds.
func (r *Registry) RouteAddr(h Handle, addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[h]
	if !ok {
		return
	}
	if e.state.HasActiveAddr && e.state.ActiveAddr != addr {
		delete(r.byAddr, e.state.ActiveAddr)
	}
	e.state.ActiveAddr = addr
	e.state.HasActiveAddr = true
	r.byAddr[addr] = h
}

// Config returns the static configuration for h.
func (r *Registry) Config(h Handle) (Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[h]
	if !ok {
		return Config{}, false
	}
	return e.cfg, true
}

// SetAlive marks h's liveness flag, reset on every inbound event and
// cleared by the transport's TTL sweep.
func (r *Registry) SetAlive(h Handle, alive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[h]; ok {
		e.state.Alive = alive
	}
}

// CheckAndClearAlive reports h's current liveness flag and clears it,
// giving the TTL sweep a one-round grace period: a handle must go a full
// sweep interval with no inbound traffic before it is reported dead.
func (r *Registry) CheckAndClearAlive(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[h]
	if !ok {
		return true
	}
	was := e.state.Alive
	e.state.Alive = false
	return was
}

// SetActive marks h as the client currently selected for capture, or clears
// the active client entirely when ok is false. Only one handle may be
// active at a time.
func (r *Registry) SetActive(h Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.clients {
		e.active = ok && id == h
	}
}

// ActiveClients enumerates handles currently marked active for capture
// barriers.
func (r *Registry) ActiveClients() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Handle
	for h, e := range r.clients {
		if e.active {
			out = append(out, h)
		}
	}
	return out
}

// AllClients enumerates every registered handle, for release-all,
// client listing, and the transport's ping and liveness sweeps.
func (r *Registry) AllClients() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.clients))
	for h := range r.clients {
		out = append(out, h)
	}
	return out
}

// TogglePressed applies a press/release edge to h's pressed-key set and
// reports whether the event should be forwarded to the backend: it is
// suppressed (double-key filter, P6) when a press arrives for an
// already-pressed key or a release for an already-released key.
func (r *Registry) TogglePressed(h Handle, key uint32, pressed bool) (forward bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[h]
	if !ok {
		return false
	}
	_, isPressed := e.state.PressedKeys[key]
	if pressed {
		if isPressed {
			return false
		}
		e.state.PressedKeys[key] = struct{}{}
		return true
	}
	if !isPressed {
		return false
	}
	delete(e.state.PressedKeys, key)
	return true
}

// AnyPressed reports whether h has any key currently held, used to decide
// whether to restart the ping timer.
func (r *Registry) AnyPressed(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[h]
	return ok && len(e.state.PressedKeys) > 0
}

// DrainPressed removes and returns every key currently held for h, for
// stuck-key release on session teardown (P1).
func (r *Registry) DrainPressed(h Handle) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[h]
	if !ok {
		return nil
	}
	keys := make([]uint32, 0, len(e.state.PressedKeys))
	for k := range e.state.PressedKeys {
		keys = append(keys, k)
	}
	e.state.PressedKeys = make(map[uint32]struct{})
	return keys
}
