// Package procutil abstracts over OS-level process and port operations so
// SessionSupervisor can be unit-tested without spawning real backends.
// Grounded on the teacher's server/subprocess.Manager (process groups via
// Setpgid, graceful-then-forced stop) and server/proc_manager.go
// (IsProcessAlive via signal-0, port probing).
package procutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Handle is the result of a successful spawn.
type Handle struct {
	PID int
	Cmd *exec.Cmd
}

// SpawnOptions configures a backend process launch.
type SpawnOptions struct {
	Cwd      string
	Env      []string
	Detached bool
}

// Runner is the capability set SessionSupervisor needs from the OS. A real
// Runner is used in production; tests substitute a fake satisfying the same
// interface (spec §9: "a real implementation and an in-memory/mock
// implementation satisfy the same contract").
type Runner interface {
	Spawn(cmd string, args []string, opts SpawnOptions) (*Handle, error)
	KillPid(pid int, sig syscall.Signal) error
	IsProcessRunning(pid int) bool
	IsPortAvailable(port int) bool
	SpawnSync(ctx context.Context, cmd string, args []string) (stdout string, exitCode int, err error)
}

// OSRunner is the production Runner, backed by os/exec and syscall.
type OSRunner struct{}

func NewOSRunner() *OSRunner { return &OSRunner{} }

// Spawn starts cmd detached from the daemon's controlling terminal: stdin
// is closed and the child runs in its own process group (Setpgid), so
// signals to the daemon's group don't reach it and `kill(-pid, sig)` can
// tear down everything it forked, mirroring subprocess.Manager.StartProcess.
func (r *OSRunner) Spawn(name string, args []string, opts SpawnOptions) (*Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Cwd
	cmd.Env = opts.Env
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procutil: spawn %s: %w", name, err)
	}
	return &Handle{PID: cmd.Process.Pid, Cmd: cmd}, nil
}

// KillPid signals pid. A not-found pid counts as success: stop is
// idempotent, per spec §4.3.
func (r *OSRunner) KillPid(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(pid, sig)
	if err != nil && err != syscall.ESRCH {
		return fmt.Errorf("procutil: kill %d: %w", pid, err)
	}
	return nil
}

// KillProcessGroup signals the whole process group rooted at pid, the way
// subprocess.Manager tears down a backend and anything it forked.
func (r *OSRunner) KillProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, sig)
	if err != nil && err != syscall.ESRCH {
		return fmt.Errorf("procutil: kill group %d: %w", pid, err)
	}
	return nil
}

// IsProcessRunning probes liveness via signal 0, per spec §4.2.
func (r *OSRunner) IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// IsPortAvailable attempts a short bind-then-release on 127.0.0.1:port.
func (r *OSRunner) IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// IsPortReachable is the complement of IsPortAvailable: true when something
// is already listening. Readiness polling does not use it; it polls
// Runner.IsPortAvailable instead.
func IsPortReachable(port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// SpawnSync runs cmd to completion and captures stdout, for dependency
// probes (e.g. "does the configured backend binary support --version").
func (r *OSRunner) SpawnSync(ctx context.Context, name string, args []string) (string, int, error) {
	c := exec.CommandContext(ctx, name, args...)
	out, err := c.Output()
	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return string(out), -1, err
		}
	}
	return string(out), exitCode, nil
}

var _ Runner = (*OSRunner)(nil)

// currentEnvWithout returns os.Environ() with any variable named key
// removed, so callers can force a single authoritative value (e.g. TERM),
// grounded on termbrowser's terminal.buildEnv.
func currentEnvWithout(key string) []string {
	prefix := key + "="
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	for _, e := range env {
		if len(e) < len(prefix) || e[:len(prefix)] != prefix {
			out = append(out, e)
		}
	}
	return out
}

// BuildEnv returns the environment to use for a spawned backend: the
// daemon's environment with TERM forced to a known-good value.
func BuildEnv(extra map[string]string) []string {
	env := currentEnvWithout("TERM")
	env = append(env, "TERM=xterm-256color")
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
