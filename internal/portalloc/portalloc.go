// Package portalloc implements deterministic next-free-port allocation for
// SessionSupervisor, grounded on the teacher's checkPort/IsPortReachable
// bind-and-release pattern (run/daemon/health.go, server/proc_manager.go).
package portalloc

import "github.com/xhd2015/ttyd-mux/internal/state"

// Prober checks whether a port is free at the OS level, in addition to the
// ports already recorded in the state document.
type Prober interface {
	IsPortAvailable(port int) bool
}

// Next returns the smallest port > basePort that is neither recorded in the
// store nor, if prober is non-nil, already bound by some other local
// process. Spec §4.1: getNextPort(basePort) returns the smallest integer
// p > basePort not present in any session's port.
func Next(store state.Store, basePort int, prober Prober) (int, error) {
	for {
		candidate, err := store.GetNextPort(basePort)
		if err != nil {
			return 0, err
		}
		if prober == nil || prober.IsPortAvailable(candidate) {
			return candidate, nil
		}
		basePort = candidate
	}
}
