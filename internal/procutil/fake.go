package procutil

import (
	"context"
	"sync"
	"syscall"
)

// FakeRunner is an in-memory Runner for SessionSupervisor tests: it never
// touches the OS, tracking "spawned" pids and "bound" ports itself.
type FakeRunner struct {
	mu        sync.Mutex
	nextPID   int
	alive     map[int]bool
	usedPorts map[int]bool
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		nextPID:   1000,
		alive:     make(map[int]bool),
		usedPorts: make(map[int]bool),
	}
}

func (f *FakeRunner) Spawn(cmd string, args []string, opts SpawnOptions) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	pid := f.nextPID
	f.alive[pid] = true
	return &Handle{PID: pid}, nil
}

func (f *FakeRunner) KillPid(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
	return nil
}

func (f *FakeRunner) IsProcessRunning(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

// MarkPortBound simulates the backend having bound its port, for readiness
// polling tests. The port reads as bound only while some spawned process is
// alive, so allocation before the spawn still sees it free.
func (f *FakeRunner) MarkPortBound(port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usedPorts[port] = true
}

func (f *FakeRunner) IsPortAvailable(port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.usedPorts[port] || len(f.alive) == 0
}

func (f *FakeRunner) SpawnSync(ctx context.Context, cmd string, args []string) (string, int, error) {
	return "", 0, nil
}

var _ Runner = (*FakeRunner)(nil)
