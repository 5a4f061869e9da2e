// Package procrunner spawns and supervises child OS processes, the Go
// analogue of utils.py's ProcessRunner base class and its
// BinlogReplicatorRunner/DbReplicatorRunner/DbOptimizerRunner subclasses
// in runner.py.
package procrunner

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Runner owns a single child process, restarting it on unexpected exit
// unless Stop has been called.
type Runner struct {
	Name string
	Args []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

// New constructs a Runner for the given executable and arguments.
func New(name string, args ...string) *Runner {
	return &Runner{Name: name, Args: args}
}

// Start launches the child process if it is not already running,
// mirroring ProcessRunner.run()'s idempotent spawn.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil && r.cmd.Process != nil && !r.stopped {
		if r.cmd.ProcessState == nil {
			return nil // already running
		}
	}
	cmd := exec.Command(r.Name, r.Args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	r.cmd = cmd
	r.stopped = false
	log.Info("procrunner: started process", zap.String("name", r.Name), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// IsAlive reports whether the child process is still running, matching
// ProcessRunner.is_alive()'s liveness poll.
func (r *Runner) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return false
	}
	return r.cmd.ProcessState == nil
}

// Stop terminates the child process and marks the Runner as intentionally
// stopped, so a supervisor's liveness loop does not respawn it.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Process.Kill()
}

// RestartIfDead restarts the process if it exited and Stop was not
// called, mirroring Runner.restart_dead_processes().
func (r *Runner) RestartIfDead() error {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped || r.IsAlive() {
		return nil
	}
	log.Warn("procrunner: process died, restarting", zap.String("name", r.Name))
	return r.Start()
}

// PollLoop runs a liveness check every interval until ctx is canceled,
// mirroring Runner.run()'s top-level poll loop.
func PollLoop(ctx context.Context, interval time.Duration, runners []*Runner) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, r := range runners {
				_ = r.Stop()
			}
			return
		case <-ticker.C:
			for _, r := range runners {
				if err := r.RestartIfDead(); err != nil {
					log.Error("procrunner: restart failed", zap.String("name", r.Name), zap.Error(err))
				}
			}
		}
	}
}
