// Package capturebackend defines the capture backend interface the Capture
// Controller drives: pointer-barrier/grab APIs are platform-specific and
// out of scope for this core, so this package only names the operation set
// consumed by internal/capture, plus an in-process Fake standing in for the
// real platform backend in tests.
package capturebackend

import (
	"context"
	"sync"

	"github.com/breeze-rmm/lanmouse/internal/ioevent"
	"github.com/breeze-rmm/lanmouse/internal/proto"
	"github.com/breeze-rmm/lanmouse/internal/registry"
)

// Event is the tagged union a backend's Next yields: either Begin (the
// pointer crossed a barrier into handle's zone) or Input (a raw device
// event while capture is active for handle).
type Event interface {
	isBackendEvent()
}

// Begin reports the pointer crossed into Handle's zone.
type Begin struct {
	Handle registry.Handle
}

func (Begin) isBackendEvent() {}

// Input reports a raw device event while capture is active for Handle.
type Input struct {
	Handle registry.Handle
	Event  ioevent.Event
}

func (Input) isBackendEvent() {}

// Backend is the operation set the Capture Controller consumes. Single
// owner: the Capture Controller, never shared.
type Backend interface {
	// Create arms capture for h at the given screen edge.
	Create(h registry.Handle, pos proto.Position) error
	// Destroy tears down capture state for h.
	Destroy(h registry.Handle) error
	// Release ungrabs the device immediately.
	Release() error
	// KeysPressed reports whether every key in keys is currently held.
	KeysPressed(keys []uint32) bool
	// Next blocks until the next Event is available, the context is done,
	// or the backend fails.
	Next(ctx context.Context) (Event, error)
	// Terminate shuts the backend down entirely.
	Terminate() error
}

// Fake is an in-process Backend for tests: a scriptable queue of events and
// an in-memory model of created handles and held keys.
type Fake struct {
	mu      sync.Mutex
	events  chan Event
	created map[registry.Handle]proto.Position
	held    map[uint32]bool
	released bool
}

// NewFake returns a Fake backend with a buffered event queue of the given
// capacity.
func NewFake(queueSize int) *Fake {
	return &Fake{
		events:  make(chan Event, queueSize),
		created: make(map[registry.Handle]proto.Position),
		held:    make(map[uint32]bool),
	}
}

// Push enqueues an Event for a subsequent Next to return, for driving a
// scripted test sequence.
func (f *Fake) Push(e Event) { f.events <- e }

// PressKey sets the simulated held state of key, for KeysPressed-based
// release-hotkey tests.
func (f *Fake) PressKey(key uint32, pressed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[key] = pressed
}

func (f *Fake) Create(h registry.Handle, pos proto.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[h] = pos
	return nil
}

func (f *Fake) Destroy(h registry.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, h)
	return nil
}

func (f *Fake) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

func (f *Fake) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *Fake) KeysPressed(keys []uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if !f.held[k] {
			return false
		}
	}
	return true
}

func (f *Fake) Next(ctx context.Context) (Event, error) {
	select {
	case e, ok := <-f.events:
		if !ok {
			return nil, context.Canceled
		}
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fake) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.events)
	return nil
}
