package emulation

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/lanmouse/internal/corectx"
	"github.com/breeze-rmm/lanmouse/internal/emulationbackend"
	"github.com/breeze-rmm/lanmouse/internal/ioevent"
	"github.com/breeze-rmm/lanmouse/internal/logging"
	"github.com/breeze-rmm/lanmouse/internal/proto"
	"github.com/breeze-rmm/lanmouse/internal/registry"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []proto.Message
}

func (f *fakeSender) SendTo(addr netip.AddrPort, msg proto.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) history() []proto.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]proto.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeReleaser struct {
	mu      sync.Mutex
	calls   int
}

func (f *fakeReleaser) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeReleaser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func addr(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func newTestController(t *testing.T) (*Controller, *emulationbackend.Fake, *fakeSender, *fakeReleaser, *registry.Registry, *corectx.Context) {
	t.Helper()
	reg := registry.New()
	cctx := corectx.New(context.Background(), reg, time.Second)
	fb := emulationbackend.NewFake()
	sender := &fakeSender{}
	releaser := &fakeReleaser{}
	ctrl := New(cctx, reg, func() (emulationbackend.Backend, error) { return fb, nil }, sender, releaser, 16)
	return ctrl, fb, sender, releaser, reg, cctx
}

func TestMutualCaptureCollision(t *testing.T) {
	ctrl, fb, _, releaser, reg, cctx := newTestController(t)
	a := addr("10.0.0.2:4242")
	h := reg.Add(registry.Config{Hostname: "a", Addrs: []netip.AddrPort{a}})
	cctx.SetMode(corectx.Sending)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.DeliverDatagram(a, proto.Input(ioevent.KeyEvent{Key: 48, Pressed: true}))

	waitFor(t, func() bool { return releaser.count() == 1 })
	waitFor(t, func() bool { return cctx.GetMode() == corectx.Receiving })
	waitFor(t, func() bool { return len(fb.Calls()) == 1 })
	if fb.Calls()[0].Handle != h {
		t.Fatalf("consumed event handle = %v, want %v", fb.Calls()[0].Handle, h)
	}
}

func TestAwaitingLeaveDrain(t *testing.T) {
	ctrl, fb, _, _, reg, cctx := newTestController(t)
	a := addr("10.0.0.2:4242")
	reg.Add(registry.Config{Hostname: "a", Addrs: []netip.AddrPort{a}})
	cctx.SetMode(corectx.AwaitingLeave)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.DeliverDatagram(a, proto.Input(ioevent.KeyEvent{Key: 1, Pressed: true}))
	ctrl.DeliverDatagram(a, proto.Input(ioevent.KeyEvent{Key: 2, Pressed: true}))
	ctrl.DeliverDatagram(a, proto.Leave())

	waitFor(t, func() bool { return cctx.GetMode() == corectx.Sending })
	time.Sleep(20 * time.Millisecond)
	if len(fb.Calls()) != 0 {
		t.Fatalf("Consume should not be called while AwaitingLeave, got %d calls", len(fb.Calls()))
	}
}

func TestStuckKeyRecoveryOnTeardown(t *testing.T) {
	ctrl, fb, _, _, reg, cctx := newTestController(t)
	a := addr("10.0.0.2:4242")
	h := reg.Add(registry.Config{Hostname: "a", Addrs: []netip.AddrPort{a}})
	cctx.SetMode(corectx.Receiving)

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)

	ctrl.DeliverDatagram(a, proto.Input(ioevent.KeyEvent{Key: 17, Pressed: true}))
	ctrl.DeliverDatagram(a, proto.Input(ioevent.KeyEvent{Key: 31, Pressed: true}))
	waitFor(t, func() bool { return len(fb.Calls()) == 2 })

	cancel()
	// 2 forwarded presses, then releaseAllKeys -> releaseKeys emits a KeyEvent
	// release per stuck key plus one ClearModifiers event: 5 total.
	waitFor(t, func() bool { return len(fb.Calls()) == 5 })

	calls := fb.Calls()
	var sawModifiers bool
	releasedKeys := map[uint32]bool{}
	for _, call := range calls[2:] {
		switch e := call.Event.(type) {
		case ioevent.KeyEvent:
			if e.Pressed {
				t.Errorf("teardown should only release, got a press for key %d", e.Key)
			}
			releasedKeys[e.Key] = true
		case ioevent.ModifiersEvent:
			sawModifiers = true
		}
	}
	if !releasedKeys[17] || !releasedKeys[31] {
		t.Errorf("expected both stuck keys released, got %v", releasedKeys)
	}
	if !sawModifiers {
		t.Error("expected a modifiers-clear event during teardown")
	}
	if reg.AnyPressed(h) {
		t.Error("pressed_keys should be empty after teardown")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) count(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), substr)
}

func TestUnknownPeerFilterLogsOncePerContiguousRun(t *testing.T) {
	ctrl, fb, _, _, _, _ := newTestController(t)
	logs := &lockedBuffer{}
	if err := logging.Init("text", "warn", logs); err != nil {
		t.Fatalf("logging.Init: %v", err)
	}
	defer logging.Init("text", "info", os.Stderr)

	unknown := addr("192.0.2.9:4242")
	other := addr("192.0.2.10:4242")
	// Exercise the controller directly, without Run, so the warning count
	// can be read synchronously after each datagram.
	steps := []struct {
		from     netip.AddrPort
		wantLogs int
	}{
		{unknown, 1},
		{unknown, 1},
		{other, 2},
	}
	for i, s := range steps {
		ctrl.handleDatagram(fb, Datagram{Addr: s.from, Msg: proto.Ping()})
		if got := logs.count("ignoring events from client"); got != s.wantLogs {
			t.Fatalf("after datagram %d: %d ignore warnings, want %d", i+1, got, s.wantLogs)
		}
	}
}
