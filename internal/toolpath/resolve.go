// Package toolpath resolves the configured terminal-backend binary on PATH
// plus well-known extra install directories. Grounded on the teacher's
// server/tool_resolve (PATH + extra-dirs search, never mutates the
// process's own PATH) generalized from opencode/codex-specific extra paths
// to a single overridable list for the ttyd-mux backend binary.
package toolpath

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ExtraPaths are install directories that may hold the backend binary even
// when it's absent from the daemon's own PATH.
var ExtraPaths = defaultExtraPaths()

func defaultExtraPaths() []string {
	paths := []string{"/usr/local/bin"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "bin"), filepath.Join(home, "go", "bin"))
	}
	return paths
}

// LookPath finds name on PATH or ExtraPaths, never mutating the process
// environment.
func LookPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		if isExecutable(name) {
			return name, nil
		}
		return "", fmt.Errorf("toolpath: %s is not executable", name)
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	for _, dir := range ExtraPaths {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("toolpath: %s not found in PATH or extra paths", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

// AppendExtraPaths returns env with PATH extended by ExtraPaths, for
// spawning the backend with a child process that can find its own
// dependencies without the daemon needing to search for them twice.
func AppendExtraPaths(env []string) []string {
	extra := joinPaths(ExtraPaths)
	out := make([]string, 0, len(env))
	found := false
	for _, e := range env {
		if len(e) >= 5 && e[:5] == "PATH=" {
			out = append(out, e+string(os.PathListSeparator)+extra)
			found = true
			continue
		}
		out = append(out, e)
	}
	if !found {
		out = append(out, "PATH="+extra)
	}
	return out
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += string(os.PathListSeparator)
		}
		out += p
	}
	return out
}
