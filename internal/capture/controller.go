// Package capture implements the Capture Controller: drives the local
// capture backend, owns the sending half of the protocol handshake, and
// emits outbound protocol events. Grounded almost line-for-line in control
// flow on the original's src/capture.rs.
package capture

import (
	"context"
	"time"

	"github.com/breeze-rmm/lanmouse/internal/capturebackend"
	"github.com/breeze-rmm/lanmouse/internal/corectx"
	"github.com/breeze-rmm/lanmouse/internal/debounce"
	"github.com/breeze-rmm/lanmouse/internal/hook"
	"github.com/breeze-rmm/lanmouse/internal/logging"
	"github.com/breeze-rmm/lanmouse/internal/proto"
	"github.com/breeze-rmm/lanmouse/internal/registry"
	"github.com/breeze-rmm/lanmouse/internal/workerpool"
)

var log = logging.L("capture")

// subState is the Capture Sub-State, internal to this controller and
// distinct from the Server Context's Global Mode: it tracks only the
// outbound handshake.
type subState int

const (
	stateIdle subState = iota
	stateWaitingForAck
	stateSending
)

// Request is a control request from the owning supervisor.
type Request interface{ isRequest() }

// CreateReq arms capture for Handle at Position.
type CreateReq struct {
	Handle   registry.Handle
	Position proto.Position
}

func (CreateReq) isRequest() {}

// DestroyReq tears down capture state for Handle.
type DestroyReq struct{ Handle registry.Handle }

func (DestroyReq) isRequest() {}

// ReleaseReq forces capture back to Idle.
type ReleaseReq struct{}

func (ReleaseReq) isRequest() {}

// Inbound is a wire event addressed to this controller: Ack or Leave for
// Handle.
type Inbound struct {
	Handle registry.Handle
	Msg    proto.Message
}

// Sender delivers an outbound protocol event to Handle, reporting a
// transport-level send failure when it occurs.
type Sender interface {
	Send(h registry.Handle, msg proto.Message) error
}

// BackendFactory creates a fresh capture backend, invoked on controller
// start and again every time a session ends and is later re-enabled.
type BackendFactory func() (capturebackend.Backend, error)

// Controller is the Capture Controller.
type Controller struct {
	ctx   *corectx.Context
	reg   *registry.Registry
	newBk BackendFactory
	send  Sender
	pool  *workerpool.Pool

	releaseBind []uint32

	requests chan Request
	inbound  chan Inbound

	sendFailGate *debounce.Gate
}

// New builds a Capture Controller. requestQueue sizes the bounded control
// queue; releaseBind is the hotkey set checked via the backend's
// KeysPressed on every event.
func New(cctx *corectx.Context, reg *registry.Registry, newBk BackendFactory, send Sender, pool *workerpool.Pool, releaseBind []uint32, requestQueue int) *Controller {
	return &Controller{
		ctx:          cctx,
		reg:          reg,
		newBk:        newBk,
		send:         send,
		pool:         pool,
		releaseBind:  releaseBind,
		requests:     make(chan Request, requestQueue),
		inbound:      make(chan Inbound, requestQueue),
		sendFailGate: debounce.New(500 * time.Millisecond),
	}
}

// Create enqueues a create request without blocking.
func (c *Controller) Create(h registry.Handle, pos proto.Position) {
	c.enqueue(CreateReq{Handle: h, Position: pos})
}

// Destroy enqueues a destroy request without blocking.
func (c *Controller) Destroy(h registry.Handle) {
	c.enqueue(DestroyReq{Handle: h})
}

// Release enqueues a release request without blocking.
func (c *Controller) Release() {
	c.enqueue(ReleaseReq{})
}

// DeliverInbound delivers an Ack or Leave addressed to this controller,
// without blocking.
func (c *Controller) DeliverInbound(h registry.Handle, msg proto.Message) {
	select {
	case c.inbound <- Inbound{Handle: h, Msg: msg}:
	default:
		log.Warn("inbound queue full, dropping event", "handle", h, "type", msg.Type)
	}
}

func (c *Controller) enqueue(r Request) {
	select {
	case c.requests <- r:
	default:
		log.Warn("control queue full, dropping request")
	}
}

// Run is the supervision loop (§4.2): on session end, publish Disabled and
// block until re-enabled or cancelled, draining any requests queued while
// disabled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		backend, err := c.newBk()
		if err != nil {
			log.Error("failed to create capture backend", "error", err)
		} else {
			if err := c.session(ctx, backend); err != nil {
				log.Warn("capture session ended", "error", err)
			}
		}
		c.ctx.SetCaptureStatus(corectx.Disabled)
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
		case <-c.ctx.CaptureEnabled():
			return true
		case <-c.requests:
			// drained and ignored while disabled
		case <-c.inbound:
			// drained and ignored while disabled
		}
	}
}

type nextResult struct {
	ev  capturebackend.Event
	err error
}

func (c *Controller) session(ctx context.Context, backend capturebackend.Backend) error {
	c.ctx.SetCaptureStatus(corectx.Enabled)
	defer backend.Terminate()

	state := stateIdle
	var active registry.Handle
	hasActive := false

	for _, h := range c.ctx.ActiveClients() {
		if pos, ok := c.ctx.GetPos(h); ok {
			_ = backend.Create(h, pos)
		}
	}

	nextCh := make(chan nextResult, 1)
	requestNext := func() {
		go func() {
			ev, err := backend.Next(ctx)
			nextCh <- nextResult{ev: ev, err: err}
		}()
	}
	requestNext()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctx.Cancelled():
			return nil

		case req := <-c.requests:
			switch r := req.(type) {
			case CreateReq:
				_ = backend.Create(r.Handle, r.Position)
			case DestroyReq:
				_ = backend.Destroy(r.Handle)
				if hasActive && active == r.Handle {
					c.release(backend, &state, &hasActive, active)
				}
			case ReleaseReq:
				c.release(backend, &state, &hasActive, active)
			}

		case in := <-c.inbound:
			if !hasActive || in.Handle != active {
				continue
			}
			switch in.Msg.Type {
			case proto.TypeAck:
				if state == stateWaitingForAck {
					state = stateSending
				}
			case proto.TypeLeave:
				c.release(backend, &state, &hasActive, active)
			}

		case res := <-nextCh:
			if res.err != nil {
				return res.err
			}
			c.handleBackendEvent(res.ev, backend, &state, &active, &hasActive)
			requestNext()
		}
	}
}

func (c *Controller) handleBackendEvent(ev capturebackend.Event, backend capturebackend.Backend, state *subState, active *registry.Handle, hasActive *bool) {
	// should_release wins over everything else, and the triggering event
	// is never forwarded.
	if c.ctx.TakeShouldRelease() {
		c.release(backend, state, hasActive, *active)
		return
	}
	if len(c.releaseBind) > 0 && backend.KeysPressed(c.releaseBind) {
		c.release(backend, state, hasActive, *active)
		return
	}

	switch e := ev.(type) {
	case capturebackend.Begin:
		*active = e.Handle
		*hasActive = true
		c.ctx.SetActive(e.Handle, true)
		*state = stateWaitingForAck
		c.sendEnter(e.Handle, backend, state, hasActive, *active)
		if cfg, ok := c.reg.Config(e.Handle); ok {
			hook.SpawnVia(c.pool, cfg.HookCmd)
		}

	case capturebackend.Input:
		if !*hasActive {
			return
		}
		switch *state {
		case stateWaitingForAck:
			// Repeat-Enter policy: every event before Ack is re-encoded
			// as Enter, providing redundancy on a lossy transport.
			c.sendEnter(*active, backend, state, hasActive, *active)
		case stateSending:
			if err := c.send.Send(*active, proto.Input(e.Event)); err != nil {
				c.onSendFailure(err, backend, state, hasActive, *active)
			}
		}
	}
}

func (c *Controller) sendEnter(h registry.Handle, backend capturebackend.Backend, state *subState, hasActive *bool, active registry.Handle) {
	pos, ok := c.ctx.GetPos(h)
	if !ok {
		return
	}
	if err := c.send.Send(h, proto.Enter(pos)); err != nil {
		c.onSendFailure(err, backend, state, hasActive, active)
	}
}

func (c *Controller) onSendFailure(err error, backend capturebackend.Backend, state *subState, hasActive *bool, active registry.Handle) {
	c.sendFailGate.Do(func() {
		log.Warn("send failed, releasing capture", "error", err)
	})
	c.release(backend, state, hasActive, active)
}

// release implements release_capture: sets sub-state to Idle, clears the
// active client, and ungrabs the backend. If the Global Mode was Sending,
// it flips to AwaitingLeave — the one exception to Mode otherwise being
// written only by the Emulation Controller, matching the original's
// cross-capture/emulation handshake on a local release.
func (c *Controller) release(backend capturebackend.Backend, state *subState, hasActive *bool, active registry.Handle) {
	_ = backend.Release()
	*state = stateIdle
	if *hasActive {
		c.ctx.SetActive(active, false)
		*hasActive = false
	}
	if c.ctx.GetMode() == corectx.Sending {
		c.ctx.SetMode(corectx.AwaitingLeave)
	}
}
