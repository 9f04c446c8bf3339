// Package debounce implements "run this at most once per N milliseconds
// from this call site" — the requirement spec.md §9 calls out as wanting a
// small stateful helper rather than a macro. One Gate belongs to exactly
// one call site, held by the owner of the code it guards (the Capture
// Controller keeps its send-failure Gate as a struct field), the same way
// the teacher keeps one rate limiter per concern rather than one shared
// global.
package debounce

import (
	"time"

	"golang.org/x/time/rate"
)

// Gate runs its argument at most once per Interval. Safe for concurrent
// use, though in this core each Gate is only ever touched by the single
// goroutine owning its call site.
type Gate struct {
	s rate.Sometimes
}

// New returns a Gate that allows its first call through immediately and
// then at most once per interval after that.
func New(interval time.Duration) *Gate {
	return &Gate{s: rate.Sometimes{Interval: interval}}
}

// Do runs f if the interval has elapsed since the last run (or this is the
// first call), otherwise does nothing.
func (g *Gate) Do(f func()) {
	g.s.Do(f)
}
