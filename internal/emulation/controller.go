// Package emulation implements the Emulation Controller: drives the local
// emulation backend, owns the receiving half of the protocol handshake,
// and consumes inbound protocol events. Grounded almost line-for-line in
// control flow on the original's src/server/emulation_task.rs.
package emulation

import (
	"context"
	"net/netip"

	"github.com/breeze-rmm/lanmouse/internal/corectx"
	"github.com/breeze-rmm/lanmouse/internal/emulationbackend"
	"github.com/breeze-rmm/lanmouse/internal/ioevent"
	"github.com/breeze-rmm/lanmouse/internal/logging"
	"github.com/breeze-rmm/lanmouse/internal/proto"
	"github.com/breeze-rmm/lanmouse/internal/registry"
)

var log = logging.L("emulation")

// Request is a control request from the owning supervisor.
type Request interface{ isRequest() }

// CreateReq arms emulation for Handle.
type CreateReq struct{ Handle registry.Handle }

func (CreateReq) isRequest() {}

// DestroyReq tears down emulation state for Handle.
type DestroyReq struct{ Handle registry.Handle }

func (DestroyReq) isRequest() {}

// ReleaseKeysReq forces every key held for Handle to be released.
type ReleaseKeysReq struct{ Handle registry.Handle }

func (ReleaseKeysReq) isRequest() {}

// Datagram is an inbound wire message together with the address it
// arrived from.
type Datagram struct {
	Addr netip.AddrPort
	Msg  proto.Message
}

// Sender replies to a peer address directly, used for Pong/Leave replies
// sent back to the source address of the datagram being answered.
type Sender interface {
	SendTo(addr netip.AddrPort, msg proto.Message) error
}

// CaptureReleaser forces the Capture Controller back to Idle. Satisfied by
// *capture.Controller's Release method.
type CaptureReleaser interface {
	Release()
}

// BackendFactory creates a fresh emulation backend.
type BackendFactory func() (emulationbackend.Backend, error)

// Controller is the Emulation Controller.
type Controller struct {
	ctx            *corectx.Context
	reg            *registry.Registry
	newBk          BackendFactory
	send           Sender
	captureRelease CaptureReleaser

	requests chan Request
	inbound  chan Datagram

	hasLastIgnored bool
	lastIgnored    netip.AddrPort
}

// New builds an Emulation Controller.
func New(cctx *corectx.Context, reg *registry.Registry, newBk BackendFactory, send Sender, captureRelease CaptureReleaser, queueSize int) *Controller {
	return &Controller{
		ctx:            cctx,
		reg:            reg,
		newBk:          newBk,
		send:           send,
		captureRelease: captureRelease,
		requests:       make(chan Request, queueSize),
		inbound:        make(chan Datagram, queueSize),
	}
}

// Create enqueues a create request without blocking.
func (c *Controller) Create(h registry.Handle) { c.enqueue(CreateReq{Handle: h}) }

// Destroy enqueues a destroy request without blocking.
func (c *Controller) Destroy(h registry.Handle) { c.enqueue(DestroyReq{Handle: h}) }

// ReleaseKeys enqueues a forced key-release request without blocking.
func (c *Controller) ReleaseKeys(h registry.Handle) { c.enqueue(ReleaseKeysReq{Handle: h}) }

func (c *Controller) enqueue(r Request) {
	select {
	case c.requests <- r:
	default:
		log.Warn("control queue full, dropping request")
	}
}

// DeliverDatagram hands an inbound wire message from the UDP layer to the
// controller, without blocking.
func (c *Controller) DeliverDatagram(addr netip.AddrPort, msg proto.Message) {
	select {
	case c.inbound <- Datagram{Addr: addr, Msg: msg}:
	default:
		log.Warn("inbound queue full, dropping datagram", "addr", addr)
	}
}

// Run is the supervision loop (§4.3): on session end, publish Disabled and
// block until re-enabled or cancelled, draining any requests queued while
// disabled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		backend, err := c.newBk()
		if err != nil {
			log.Error("failed to create emulation backend", "error", err)
		} else {
			if err := c.session(ctx, backend); err != nil {
				log.Warn("emulation session ended", "error", err)
			}
		}
		c.ctx.SetEmulationStatus(corectx.Disabled)
		if !c.waitForReenableOrCancel(ctx) {
			return nil
		}
	}
}

func (c *Controller) waitForReenableOrCancel(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.ctx.Cancelled():
			return false
		case <-c.ctx.EmulationEnabled():
			return true
		case <-c.requests:
		case <-c.inbound:
		}
	}
}

func (c *Controller) session(ctx context.Context, backend emulationbackend.Backend) error {
	c.ctx.SetEmulationStatus(corectx.Enabled)
	// release_all_keys runs before Terminate so Consume calls synthesizing
	// the release events still reach a live backend.
	defer func() {
		c.releaseAllKeys(backend)
		backend.Terminate()
	}()

	for _, h := range c.ctx.ActiveClients() {
		_ = backend.Create(h)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctx.Cancelled():
			return nil

		case req := <-c.requests:
			switch r := req.(type) {
			case CreateReq:
				_ = backend.Create(r.Handle)
			case DestroyReq:
				_ = backend.Destroy(r.Handle)
			case ReleaseKeysReq:
				c.releaseKeys(backend, r.Handle)
			}

		case dgram := <-c.inbound:
			c.handleDatagram(backend, dgram)
		}
	}
}

func (c *Controller) handleDatagram(backend emulationbackend.Backend, dgram Datagram) {
	h, ok := c.reg.GetClient(dgram.Addr)
	if !ok {
		if !c.hasLastIgnored || c.lastIgnored != dgram.Addr {
			log.Warn("ignoring events from client", "addr", dgram.Addr)
			c.lastIgnored = dgram.Addr
			c.hasLastIgnored = true
		}
		return
	}
	c.hasLastIgnored = false

	c.reg.RouteAddr(h, dgram.Addr)
	c.reg.SetAlive(h, true)

	switch dgram.Msg.Type {
	case proto.TypePong:
		return
	case proto.TypePing:
		_ = c.send.SendTo(dgram.Addr, proto.Pong())
		return
	case proto.TypeDisconnect:
		c.releaseKeys(backend, h)
		return
	case proto.TypeEnter:
		// Acknowledge we've seen the Enter regardless of mode, then fall
		// through to the mode table below.
		_ = c.send.SendTo(dgram.Addr, proto.Leave())
	}

	c.applyModeTransition(backend, h, dgram.Msg)
}

func (c *Controller) applyModeTransition(backend emulationbackend.Backend, h registry.Handle, msg proto.Message) {
	switch c.ctx.GetMode() {
	case corectx.Sending:
		if msg.Type == proto.TypeLeave {
			return
		}
		c.captureRelease.Release()
		c.ctx.SetMode(corectx.Receiving)
		c.dispatchReceiving(backend, h, msg)

	case corectx.Receiving:
		c.dispatchReceiving(backend, h, msg)

	case corectx.AwaitingLeave:
		switch msg.Type {
		case proto.TypeLeave:
			c.ctx.SetMode(corectx.Sending)
		case proto.TypeEnter:
			c.captureRelease.Release()
			c.ctx.SetMode(corectx.Receiving)
		default:
			// silently discard, per P5
		}
	}
}

func (c *Controller) dispatchReceiving(backend emulationbackend.Backend, h registry.Handle, msg proto.Message) {
	if msg.Type != proto.TypeInput {
		return
	}
	switch e := msg.Event.(type) {
	case ioevent.KeyEvent:
		forward := c.reg.TogglePressed(h, e.Key, e.Pressed)
		if c.reg.AnyPressed(h) {
			c.ctx.RestartPingTimer()
		}
		if !forward {
			return
		}
		if err := backend.Consume(e, h); err != nil {
			log.Warn("emulation consume failed", "handle", h, "error", err)
		}
	default:
		if err := backend.Consume(msg.Event, h); err != nil {
			log.Warn("emulation consume failed", "handle", h, "error", err)
		}
	}
}

// releaseKeys drains every pressed key for h and synthesizes a matching
// release, then clears modifiers (P1).
func (c *Controller) releaseKeys(backend emulationbackend.Backend, h registry.Handle) {
	keys := c.reg.DrainPressed(h)
	for _, k := range keys {
		log.Warn("releasing stuck key", "handle", h, "key", k)
		if err := backend.Consume(ioevent.KeyEvent{Key: k, Pressed: false}, h); err != nil {
			log.Warn("failed to release stuck key", "handle", h, "key", k, "error", err)
		}
	}
	if err := backend.Consume(ioevent.ClearModifiers(), h); err != nil {
		log.Warn("failed to clear modifiers", "handle", h, "error", err)
	}
}

func (c *Controller) releaseAllKeys(backend emulationbackend.Backend) {
	for _, h := range c.reg.AllClients() {
		c.releaseKeys(backend, h)
	}
}
