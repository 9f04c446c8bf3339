// Package transport implements the UDP network task: socket I/O, datagram
// decode and dispatch to the two controllers' inbound channels, the
// liveness TTL sweep, and ping/pong keepalive. spec.md places the wire
// transport out of scope for the core itself except for the tags that
// must exist on the wire; this package is the concrete (encryption-free,
// best-effort) socket layer a complete daemon needs around that core.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/breeze-rmm/lanmouse/internal/corectx"
	"github.com/breeze-rmm/lanmouse/internal/logging"
	"github.com/breeze-rmm/lanmouse/internal/proto"
	"github.com/breeze-rmm/lanmouse/internal/registry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var log = logging.L("transport")

// CaptureDeliverer is the subset of *capture.Controller this package
// drives: handing it the Ack/Leave events addressed to it.
type CaptureDeliverer interface {
	DeliverInbound(h registry.Handle, msg proto.Message)
}

// EmulationDeliverer is the subset of *emulation.Controller this package
// drives: handing it every other inbound datagram.
type EmulationDeliverer interface {
	DeliverDatagram(addr netip.AddrPort, msg proto.Message)
}

// Transport owns the UDP socket and fans inbound datagrams out to the two
// controllers, per the Ack/Leave routing resolved in DESIGN.md: Ack goes to
// the Capture Controller only, Leave to both, everything else to the
// Emulation Controller only.
type Transport struct {
	conn    *net.UDPConn
	reg     *registry.Registry
	core    *corectx.Context
	capture CaptureDeliverer
	emul    EmulationDeliverer

	pingInterval time.Duration
	ttl          time.Duration
	resendRate   float64
	resendBurst  int

	mu       sync.Mutex
	limiters map[registry.Handle]*rate.Limiter
}

// Config configures a Transport.
type Config struct {
	ListenAddr   netip.AddrPort
	PingInterval time.Duration
	TTL          time.Duration
	// ResendRate caps how many outbound sends per second a single handle
	// may make, guarding against a runaway WaitingForAck resend loop
	// saturating the link on a very lossy network.
	ResendRate  float64
	ResendBurst int
}

// New binds a UDP socket on cfg.ListenAddr and wires it to the two
// controllers. core is the Server Context whose PingReset channel the
// liveness sweep selects on, so a held key (which restarts the ping timer
// via corectx.Context.RestartPingTimer) defers a client being declared dead.
func New(cfg Config, reg *registry.Registry, core *corectx.Context, capture CaptureDeliverer, emul EmulationDeliverer) (*Transport, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(cfg.ListenAddr))
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	t := &Transport{
		conn:         conn,
		reg:          reg,
		core:         core,
		capture:      capture,
		emul:         emul,
		pingInterval: cfg.PingInterval,
		ttl:          cfg.TTL,
		limiters:     make(map[registry.Handle]*rate.Limiter),
	}
	if t.pingInterval <= 0 {
		t.pingInterval = 2 * time.Second
	}
	if t.ttl <= 0 {
		// Fall back to the Server Context's own liveness TTL before the
		// hardcoded default, since sweepLoop's deadline and
		// core.RestartPingTimer's deferral only make sense measured against
		// the same duration.
		if core != nil && core.PingTimeout() > 0 {
			t.ttl = core.PingTimeout()
		} else {
			t.ttl = 10 * time.Second
		}
	}
	if cfg.ResendRate <= 0 {
		cfg.ResendRate = 30
	}
	if cfg.ResendBurst <= 0 {
		cfg.ResendBurst = 10
	}
	t.resendRate = cfg.ResendRate
	t.resendBurst = cfg.ResendBurst
	return t, nil
}

// Run drives the read loop, the ping keepalive, and the liveness sweep
// until ctx is cancelled or any of them fails.
func (t *Transport) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.readLoop(gctx) })
	g.Go(func() error { return t.sweepLoop(gctx) })
	g.Go(func() error { return t.pingLoop(gctx) })
	<-gctx.Done()
	_ = t.conn.Close()
	return g.Wait()
}

func (t *Transport) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, h := range t.reg.AllClients() {
				cfg, ok := t.reg.Config(h)
				if !ok {
					continue
				}
				for _, addr := range cfg.Addrs {
					_ = t.SendTo(addr, proto.Ping())
				}
			}
		}
	}
}

func (t *Transport) readLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = t.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, raddr, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		msg, err := proto.Decode(buf[:n])
		if err != nil {
			log.Warn("dropping malformed datagram", "addr", raddr, "error", err)
			continue
		}
		t.classify(raddr, msg)
	}
}

// classify implements the Ack/Leave routing documented in DESIGN.md.
func (t *Transport) classify(addr netip.AddrPort, msg proto.Message) {
	switch msg.Type {
	case proto.TypeAck:
		if h, ok := t.reg.GetClient(addr); ok {
			t.capture.DeliverInbound(h, msg)
		}
	case proto.TypeLeave:
		if h, ok := t.reg.GetClient(addr); ok {
			t.capture.DeliverInbound(h, msg)
		}
		t.emul.DeliverDatagram(addr, msg)
	default:
		t.emul.DeliverDatagram(addr, msg)
	}
}

// sweepLoop is a resettable deadline rather than a fixed ticker: a held key
// on the emulation side restarts the Server Context's ping timer
// (corectx.Context.RestartPingTimer), and receiving that signal here pushes
// the next sweep back out a full TTL instead of letting an actively-driven
// client starve to a false Disconnect.
func (t *Transport) sweepLoop(ctx context.Context) error {
	timer := time.NewTimer(t.ttl)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.core.PingReset():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(t.ttl)
		case <-timer.C:
			t.sweep()
			timer.Reset(t.ttl)
		}
	}
}

// sweep ages out clients that have not produced traffic since the last
// sweep: a client still marked alive is reset to pending for the next
// round, and one found already pending (no traffic for a full TTL period)
// is reported to the Emulation Controller as a Disconnect so it can
// release any stuck keys.
func (t *Transport) sweep() {
	for _, h := range t.reg.AllClients() {
		if t.reg.CheckAndClearAlive(h) {
			continue
		}
		cfg, ok := t.reg.Config(h)
		if !ok {
			continue
		}
		for _, addr := range cfg.Addrs {
			t.emul.DeliverDatagram(addr, proto.Disconnect())
		}
	}
}

// Send implements capture.Sender: sends msg to h's configured address,
// rate-limited per handle to guard a runaway WaitingForAck resend loop.
func (t *Transport) Send(h registry.Handle, msg proto.Message) error {
	cfg, ok := t.reg.Config(h)
	if !ok || len(cfg.Addrs) == 0 {
		return fmt.Errorf("transport: no address for handle %v", h)
	}
	if !t.limiterFor(h).Allow() {
		return nil
	}
	return t.writeTo(cfg.Addrs[0], msg)
}

// SendTo implements emulation.Sender: sends msg directly to addr.
func (t *Transport) SendTo(addr netip.AddrPort, msg proto.Message) error {
	return t.writeTo(addr, msg)
}

func (t *Transport) writeTo(addr netip.AddrPort, msg proto.Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	_, err = t.conn.WriteToUDPAddrPort(data, addr)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (t *Transport) limiterFor(h registry.Handle) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[h]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.resendRate), t.resendBurst)
		t.limiters[h] = l
	}
	return l
}
