// Package emulationbackend defines the emulation backend interface the
// Emulation Controller drives: synthesizing OS-level input events is
// platform-specific and out of scope for this core, so this package only
// names the operation set consumed by internal/emulation, plus an
// in-process Fake standing in for the real platform backend in tests.
package emulationbackend

import (
	"sync"

	"github.com/breeze-rmm/lanmouse/internal/ioevent"
	"github.com/breeze-rmm/lanmouse/internal/registry"
)

// Backend is the operation set the Emulation Controller consumes. Single
// owner: the Emulation Controller, never shared.
type Backend interface {
	// Create arms emulation for h.
	Create(h registry.Handle) error
	// Destroy tears down emulation state for h.
	Destroy(h registry.Handle) error
	// Consume synthesizes e as if produced locally, on behalf of h.
	Consume(e ioevent.Event, h registry.Handle) error
	// Terminate shuts the backend down entirely.
	Terminate() error
}

// Consumed records a single Consume call, for test assertions.
type Consumed struct {
	Handle registry.Handle
	Event  ioevent.Event
}

// Fake is an in-process Backend for tests: records every created/destroyed
// handle and every consumed event in call order.
type Fake struct {
	mu       sync.Mutex
	created  map[registry.Handle]bool
	consumed []Consumed
}

// NewFake returns an empty Fake backend.
func NewFake() *Fake {
	return &Fake{created: make(map[registry.Handle]bool)}
}

func (f *Fake) Create(h registry.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[h] = true
	return nil
}

func (f *Fake) Destroy(h registry.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, h)
	return nil
}

func (f *Fake) Consume(e ioevent.Event, h registry.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumed = append(f.consumed, Consumed{Handle: h, Event: e})
	return nil
}

func (f *Fake) Terminate() error { return nil }

// Calls returns a snapshot of every Consume call received so far, in
// order.
func (f *Fake) Calls() []Consumed {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Consumed, len(f.consumed))
	copy(out, f.consumed)
	return out
}

// Created reports whether h currently has an emulation session.
func (f *Fake) Created(h registry.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[h]
}
