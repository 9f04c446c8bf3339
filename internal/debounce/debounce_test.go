package debounce

import (
	"testing"
	"time"
)

func TestGateFirstCallRunsImmediately(t *testing.T) {
	g := New(50 * time.Millisecond)
	ran := false
	g.Do(func() { ran = true })
	if !ran {
		t.Fatal("first Do call should run")
	}
}

func TestGateSuppressesWithinInterval(t *testing.T) {
	g := New(100 * time.Millisecond)
	count := 0
	for i := 0; i < 5; i++ {
		g.Do(func() { count++ })
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (only the first call should run within the interval)", count)
	}
}

func TestGateAllowsAfterInterval(t *testing.T) {
	g := New(10 * time.Millisecond)
	count := 0
	g.Do(func() { count++ })
	time.Sleep(20 * time.Millisecond)
	g.Do(func() { count++ })
	if count != 2 {
		t.Fatalf("count = %d, want 2 after waiting past the interval", count)
	}
}
