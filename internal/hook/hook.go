// Package hook spawns the optional per-client shell command run when
// capture for that client begins, grounded on the original's
// spawn_hook_command: a detached child whose exit status is logged but
// which never affects capture state.
package hook

import (
	"os/exec"

	"github.com/breeze-rmm/lanmouse/internal/logging"
	"github.com/breeze-rmm/lanmouse/internal/workerpool"
)

var log = logging.L("hook")

// Spawn runs cmd via "sh -c" as a detached child and logs its outcome. It
// never blocks the caller past launching the process, and a non-nil error
// is only ever logged, never propagated: a broken hook command must not
// interrupt capture.
func Spawn(cmd string) {
	if cmd == "" {
		return
	}
	go run(cmd)
}

// SpawnVia submits the hook command to pool instead of spawning its own
// goroutine, bounding how many hook commands can be launching
// concurrently. Falls back to logging and dropping the command if the
// pool's queue is full — a hook command must never back up capture.
func SpawnVia(pool *workerpool.Pool, cmd string) {
	if cmd == "" {
		return
	}
	if pool == nil {
		go run(cmd)
		return
	}
	if !pool.Submit(func() { run(cmd) }) {
		log.Warn("hook worker pool full, dropping hook command", "cmd", cmd)
	}
}

func run(cmd string) {
	c := exec.Command("sh", "-c", cmd)
	if err := c.Run(); err != nil {
		log.Warn("hook command failed", "cmd", cmd, "error", err)
		return
	}
	log.Debug("hook command finished", "cmd", cmd)
}
