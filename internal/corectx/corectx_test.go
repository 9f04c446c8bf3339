package corectx

import (
	"context"
	"testing"
	"time"

	"github.com/breeze-rmm/lanmouse/internal/registry"
)

func newTestContext() *Context {
	return New(context.Background(), registry.New(), time.Second)
}

func TestShouldReleaseOneShot(t *testing.T) {
	c := newTestContext()
	if c.TakeShouldRelease() {
		t.Fatal("should_release should start unset")
	}
	c.RequestRelease()
	if !c.TakeShouldRelease() {
		t.Fatal("should_release should be set after RequestRelease")
	}
	if c.TakeShouldRelease() {
		t.Fatal("should_release should be consumed after one Take")
	}
}

func TestEdgeTriggeredNotifier(t *testing.T) {
	c := newTestContext()
	ch := c.CaptureEnabled()
	select {
	case <-ch:
		t.Fatal("notifier fired before NotifyCaptureEnabled")
	default:
	}
	c.NotifyCaptureEnabled()
	select {
	case <-ch:
	default:
		t.Fatal("notifier did not fire after NotifyCaptureEnabled")
	}

	ch2 := c.CaptureEnabled()
	select {
	case <-ch2:
		t.Fatal("fresh wait channel should not be pre-closed")
	default:
	}
}

func TestModeDefaultsSending(t *testing.T) {
	c := newTestContext()
	if c.GetMode() != Sending {
		t.Fatalf("GetMode() = %v, want Sending", c.GetMode())
	}
	c.SetMode(AwaitingLeave)
	if c.GetMode() != AwaitingLeave {
		t.Fatalf("GetMode() = %v, want AwaitingLeave", c.GetMode())
	}
}

func TestReleaseBindSatisfied(t *testing.T) {
	held := map[uint32]bool{1: true, 2: true}
	pressed := func(k uint32) bool { return held[k] }

	if !ReleaseBindSatisfied([]uint32{1, 2}, pressed) {
		t.Error("all bound keys held should satisfy the release bind")
	}
	if ReleaseBindSatisfied([]uint32{1, 3}, pressed) {
		t.Error("missing one bound key should not satisfy the release bind")
	}
	if ReleaseBindSatisfied(nil, pressed) {
		t.Error("empty bind should never be satisfied")
	}
}

func TestCancelled(t *testing.T) {
	c := newTestContext()
	select {
	case <-c.Cancelled():
		t.Fatal("should not be cancelled initially")
	default:
	}
	c.Cancel()
	select {
	case <-c.Cancelled():
	default:
		t.Fatal("Cancelled() should fire after Cancel()")
	}
}
