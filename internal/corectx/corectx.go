// Package corectx implements the Server Context: the small object the
// Capture and Emulation controllers coordinate through without ever calling
// each other directly. Every field documents its single-writer convention;
// controllers communicate only via this Context and via their own request
// channels.
package corectx

import (
	"context"
	"sync"
	"time"

	"github.com/breeze-rmm/lanmouse/internal/proto"
	"github.com/breeze-rmm/lanmouse/internal/registry"
)

// Mode is the Global Mode held by the Server Context. Written only by the
// Emulation Controller (and indirectly by the Capture Controller's
// release, which flips Sending -> AwaitingLeave).
type Mode int

const (
	Sending Mode = iota
	Receiving
	AwaitingLeave
)

func (m Mode) String() string {
	switch m {
	case Sending:
		return "sending"
	case Receiving:
		return "receiving"
	case AwaitingLeave:
		return "awaiting-leave"
	default:
		return "unknown"
	}
}

// Status is published to the frontend layer on every session start/stop.
type Status int

const (
	Disabled Status = iota
	Enabled
)

func (s Status) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

// notifier is an edge-triggered wake-up built from the close-then-replace
// idiom: wait returns the current channel, fire closes it and installs a
// fresh one under the lock so a closed channel is never observed twice.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) fire() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}

// Context is the process-wide shared coordination object. Single-threaded
// exclusive access per mutation: every exported method takes and releases
// its lock without suspending, so no caller ever observes a half-updated
// field.
type Context struct {
	ctx    context.Context
	cancel context.CancelFunc

	reg *registry.Registry

	captureNotify   *notifier
	emulationNotify *notifier

	mu            sync.Mutex
	mode          Mode
	shouldRelease bool
	captureStatus Status
	emulStatus    Status
	activeHandle  registry.Handle
	hasActive     bool

	pingMu      sync.Mutex
	pingReset   chan struct{}
	pingTimeout time.Duration
}

// New builds a Context wired to reg, the shared client registry. parent is
// the root context whose cancellation is the process-fatal shutdown
// signal (§7 tier 3).
func New(parent context.Context, reg *registry.Registry, pingTimeout time.Duration) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		ctx:             ctx,
		cancel:          cancel,
		reg:             reg,
		captureNotify:   newNotifier(),
		emulationNotify: newNotifier(),
		mode:            Sending,
		pingReset:       make(chan struct{}, 1),
		pingTimeout:     pingTimeout,
	}
}

// Cancel requests process-fatal shutdown; Cancelled() fires for every
// waiter.
func (c *Context) Cancel() { c.cancel() }

// Cancelled returns a channel closed once shutdown has been requested.
func (c *Context) Cancelled() <-chan struct{} { return c.ctx.Done() }

// CaptureEnabled returns the edge-triggered wake-up channel for the Capture
// Controller; it fires once per NotifyCaptureEnabled call.
func (c *Context) CaptureEnabled() <-chan struct{} { return c.captureNotify.wait() }

// NotifyCaptureEnabled wakes a Capture Controller blocked waiting to
// restart after a session ended.
func (c *Context) NotifyCaptureEnabled() { c.captureNotify.fire() }

// EmulationEnabled returns the edge-triggered wake-up channel for the
// Emulation Controller.
func (c *Context) EmulationEnabled() <-chan struct{} { return c.emulationNotify.wait() }

// NotifyEmulationEnabled wakes an Emulation Controller blocked waiting to
// restart after a session ended.
func (c *Context) NotifyEmulationEnabled() { c.emulationNotify.fire() }

// SetCaptureStatus publishes the capture Status to the frontend layer.
// Written only by the Capture Controller.
func (c *Context) SetCaptureStatus(s Status) {
	c.mu.Lock()
	c.captureStatus = s
	c.mu.Unlock()
}

// CaptureStatus returns the last published capture Status.
func (c *Context) CaptureStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captureStatus
}

// SetEmulationStatus publishes the emulation Status. Written only by the
// Emulation Controller.
func (c *Context) SetEmulationStatus(s Status) {
	c.mu.Lock()
	c.emulStatus = s
	c.mu.Unlock()
}

// EmulationStatus returns the last published emulation Status.
func (c *Context) EmulationStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emulStatus
}

// RequestRelease sets the should-release latch, consulted by the Capture
// Controller on its next event.
func (c *Context) RequestRelease() {
	c.mu.Lock()
	c.shouldRelease = true
	c.mu.Unlock()
}

// TakeShouldRelease consumes the one-shot should-release latch. Per the
// resolved ambiguity over whether the triggering event should still be
// forwarded: it should not — callers must check this before translating
// the event that prompted the call.
func (c *Context) TakeShouldRelease() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.shouldRelease
	c.shouldRelease = false
	return v
}

// GetMode returns the current Global Mode.
func (c *Context) GetMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode sets the Global Mode. Written by the Emulation Controller (and,
// on release, by the Capture Controller transitioning Sending ->
// AwaitingLeave).
func (c *Context) SetMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

// SetActive marks h as the client currently selected for capture, or
// clears it when ok is false.
func (c *Context) SetActive(h registry.Handle, ok bool) {
	c.mu.Lock()
	c.activeHandle = h
	c.hasActive = ok
	c.mu.Unlock()
	c.reg.SetActive(h, ok)
}

// GetActive returns the handle currently selected for capture, if any.
func (c *Context) GetActive() (registry.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeHandle, c.hasActive
}

// ActiveClients enumerates handles currently marked for capture barriers.
func (c *Context) ActiveClients() []registry.Handle { return c.reg.ActiveClients() }

// GetPos returns the configured Position for h.
func (c *Context) GetPos(h registry.Handle) (proto.Position, bool) {
	cfg, ok := c.reg.Config(h)
	if !ok {
		return 0, false
	}
	return cfg.Position, true
}

// RestartPingTimer resets the keep-alive/liveness timer, called whenever a
// key remains held after processing an inbound keypress.
func (c *Context) RestartPingTimer() {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	select {
	case c.pingReset <- struct{}{}:
	default:
	}
}

// PingReset exposes the reset signal for the transport layer's TTL sweep
// to select on.
func (c *Context) PingReset() <-chan struct{} { return c.pingReset }

// PingTimeout is the configured liveness TTL.
func (c *Context) PingTimeout() time.Duration { return c.pingTimeout }

// ReleaseBindSatisfied reports whether every key in bind is currently held
// by the capture backend, per the resolved "all keys simultaneously
// pressed" semantics.
func ReleaseBindSatisfied(bind []uint32, pressed func(key uint32) bool) bool {
	if len(bind) == 0 {
		return false
	}
	for _, k := range bind {
		if !pressed(k) {
			return false
		}
	}
	return true
}
