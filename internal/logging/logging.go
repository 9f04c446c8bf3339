// Package logging provides the structured logging used across this
// module, trimmed down from the teacher's switchable/shippable handler
// pair to just what a local daemon needs: a package-level default logger
// so lines emitted before Init are never lost, and a per-component
// accessor that keeps working if Init reconfigures the handler later.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	current slog.Handler = slog.NewTextHandler(os.Stderr, nil)
)

// Init (re)configures the process-wide handler. format is "text" or
// "json"; level is "debug", "info", "warn", or "error". Call once from
// main after config is loaded; loggers already obtained via L continue to
// route through the shared handler because they hold a forwarder, not a
// snapshot.
func Init(format, level string, output io.Writer) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(output, opts)
	case "text", "":
		h = slog.NewTextHandler(output, opts)
	default:
		return fmt.Errorf("logging: unknown format %q", format)
	}

	mu.Lock()
	current = h
	mu.Unlock()
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", level)
	}
}

// L returns a logger tagged with component, routed through whichever
// handler is currently installed. Packages call this once at package-init
// time, e.g. var log = logging.L("transport").
func L(component string) *slog.Logger {
	return slog.New(&forwarder{}).With("component", component)
}

// forwarder implements slog.Handler by delegating every call to the
// process-wide handler, read under lock at call time. WithAttrs/WithGroup
// accumulate locally so a reconfigured handler still gets every attribute
// a caller attached along the way.
type forwarder struct {
	attrs  []slog.Attr
	groups []string
}

func (f *forwarder) snapshot() slog.Handler {
	mu.RLock()
	h := current
	mu.RUnlock()
	for _, g := range f.groups {
		h = h.WithGroup(g)
	}
	if len(f.attrs) > 0 {
		h = h.WithAttrs(f.attrs)
	}
	return h
}

func (f *forwarder) Enabled(ctx context.Context, level slog.Level) bool {
	return f.snapshot().Enabled(ctx, level)
}

func (f *forwarder) Handle(ctx context.Context, record slog.Record) error {
	return f.snapshot().Handle(ctx, record)
}

func (f *forwarder) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &forwarder{groups: f.groups}
	next.attrs = append(next.attrs, f.attrs...)
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (f *forwarder) WithGroup(name string) slog.Handler {
	next := &forwarder{attrs: f.attrs}
	next.groups = append(next.groups, f.groups...)
	next.groups = append(next.groups, name)
	return next
}
