// Package session implements SessionSupervisor: the lifecycle of backend
// terminal processes (spec §4.3). Lookup by name or directory is provided by
// state.Store (FindSessionByName, FindSessionByDir) and URL path prefix
// matching by internal/router; this package has no lookup functions of its
// own.
//
// Grounded on the teacher's server/subprocess.Manager (process map, status
// tracking, monitor goroutine, graceful-then-forced stop) and
// run/daemon/process.go + health.go (readiness polling, process-group
// kill), generalized from "one long-running server process" to "a named
// fleet of per-directory backends, each with a port and URL path".
package session

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/xhd2015/ttyd-mux/internal/apierr"
	"github.com/xhd2015/ttyd-mux/internal/portalloc"
	"github.com/xhd2015/ttyd-mux/internal/procutil"
	"github.com/xhd2015/ttyd-mux/internal/state"
)

// CommandBuilder constructs the backend process invocation for a session.
// Command construction itself is a collaborator concern (spec §4.3 step 4):
// the supervisor only consumes {cmd, args, env}.
type CommandBuilder func(opts StartOptions, port int, urlPrefix string) (cmd string, args []string, env []string)

// Config holds the supervisor's operating parameters.
type Config struct {
	BasePath         string
	BasePort         int
	ReadinessTimeout time.Duration // suggested default 5s, per spec §5
	StopGrace        time.Duration // suggested default 5s
	Builder          CommandBuilder
}

// Supervisor owns the lifecycle of backend processes.
type Supervisor struct {
	store  state.Store
	runner procutil.Runner
	cfg    Config
}

func New(store state.Store, runner procutil.Runner, cfg Config) *Supervisor {
	if cfg.ReadinessTimeout == 0 {
		cfg.ReadinessTimeout = 5 * time.Second
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Supervisor{store: store, runner: runner, cfg: cfg}
}

// StartOptions is the caller-supplied input to StartSession (spec §6.2
// POST /api/sessions body).
type StartOptions struct {
	Name string
	Dir  string
	Path string
}

// unsafeNameChars matches any rune outside [A-Za-z0-9._-].
var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeName replaces every rune outside [A-Za-z0-9._-] with '_', per
// spec §3, so the result is always safe as a shell/tmux session label —
// grounded on the teacher's "tb-" + strings.ReplaceAll(node, ".", "-")
// convention for building safe tmux session names.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// sessionNameFromDir derives a default session name from a directory's last
// path component.
func sessionNameFromDir(dir string) string {
	base := strings.TrimRight(dir, string(os.PathSeparator))
	if base == "" {
		return "root"
	}
	parts := strings.Split(base, string(os.PathSeparator))
	last := parts[len(parts)-1]
	if last == "" {
		return "root"
	}
	return SanitizeName(last)
}

// reservedPrefixes are the session-name prefixes the Router's classification
// relies on being disjoint from (spec §4.4 ordering rule).
var reservedPrefixes = []string{"api", "s", "share"}

func isReservedName(name string) bool {
	for _, p := range reservedPrefixes {
		if name == p {
			return true
		}
	}
	return false
}

// isSafeSessionPath reports whether p is safe to append to BasePath as a
// session's URL prefix: it must be an absolute, already-clean path with no
// ".." segment (checked after percent-decoding, so an encoded "%2e%2e"
// traversal attempt is caught too) and no embedded NUL.
// A caller-supplied path that fails this must never reach urlPrefix
// construction, per spec §8's join-stays-inside-base invariant.
func isSafeSessionPath(p string) bool {
	if p == "" || strings.ContainsRune(p, 0) {
		return false
	}
	decoded, err := url.PathUnescape(p)
	if err != nil || decoded == "" || strings.ContainsRune(decoded, 0) {
		return false
	}
	if !strings.HasPrefix(decoded, "/") {
		return false
	}
	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." {
			return false
		}
	}
	if cleaned := path.Clean(decoded); cleaned != decoded || cleaned == "/" {
		return false
	}
	return true
}

// StartSession implements spec §4.3 startSession.
func (s *Supervisor) StartSession(opts StartOptions) (*state.Session, error) {
	name := opts.Name
	if name == "" {
		name = sessionNameFromDir(opts.Dir)
	}
	name = SanitizeName(name)
	if name == "" || isReservedName(name) {
		return nil, apierr.Validation("invalid session name %q", opts.Name)
	}

	existing, err := s.store.FindSessionByName(name)
	if err != nil {
		return nil, apierr.StateIO("look up session", err)
	}
	if existing != nil && s.runner.IsProcessRunning(existing.PID) {
		return nil, apierr.Conflict("session %q is already running", name)
	}

	port, err := portalloc.Next(s.store, s.cfg.BasePort, s.runner)
	if err != nil {
		return nil, apierr.StateIO("allocate port", err)
	}

	sessPath := opts.Path
	if sessPath == "" {
		sessPath = "/" + name
	} else if !isSafeSessionPath(sessPath) {
		return nil, apierr.Validation("invalid session path %q", opts.Path)
	}
	if firstSeg := strings.SplitN(strings.TrimPrefix(sessPath, "/"), "/", 2)[0]; isReservedName(firstSeg) {
		return nil, apierr.Validation("session path %q collides with a reserved prefix", opts.Path)
	}

	others, err := s.store.ListSessions()
	if err != nil {
		return nil, apierr.StateIO("list sessions", err)
	}
	for _, other := range others {
		if other.Name != name && other.Path == sessPath {
			return nil, apierr.Conflict("session path %q is already in use by %q", sessPath, other.Name)
		}
	}

	urlPrefix := s.cfg.BasePath + sessPath

	cmdName, args, env := s.cfg.Builder(opts, port, urlPrefix)
	handle, err := s.runner.Spawn(cmdName, args, procutil.SpawnOptions{
		Cwd:      opts.Dir,
		Env:      env,
		Detached: true,
	})
	if err != nil {
		return nil, apierr.BackendStart("spawn backend for %q: %v", name, err)
	}

	sess := state.Session{
		Name:      name,
		PID:       handle.PID,
		Port:      port,
		Path:      sessPath,
		Dir:       opts.Dir,
		StartedAt: time.Now(),
	}
	if err := s.store.AddSession(sess); err != nil {
		s.runner.KillPid(handle.PID, syscall.SIGTERM)
		return nil, apierr.StateIO("record session", err)
	}

	if !s.waitForReady(port) {
		s.runner.KillPid(handle.PID, syscall.SIGKILL)
		s.store.RemoveSession(name)
		return nil, apierr.BackendStart("backend for %q did not become ready within %s", name, s.cfg.ReadinessTimeout)
	}

	return &sess, nil
}

// waitForReady polls until the backend's port stops being "available" (i.e.
// something is now listening on it), bounded by cfg.ReadinessTimeout.
func (s *Supervisor) waitForReady(port int) bool {
	deadline := time.Now().Add(s.cfg.ReadinessTimeout)
	for time.Now().Before(deadline) {
		if !s.runner.IsPortAvailable(port) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !s.runner.IsPortAvailable(port)
}

// StopOptions configures StopSession.
type StopOptions struct {
	KillTmux bool
}

// TmuxKiller is the optional collaborator that tears down a named
// terminal-multiplexer session, invoked when StopOptions.KillTmux is set
// (spec §4.3 step 3). Out of scope to implement; ttyd-mux only defines the
// seam.
type TmuxKiller interface {
	KillSession(name string) error
}

// StopSession implements spec §4.3 stopSession.
func (s *Supervisor) StopSession(name string, opts StopOptions, tmux TmuxKiller) error {
	sess, err := s.store.FindSessionByName(name)
	if err != nil {
		return apierr.StateIO("look up session", err)
	}
	if sess == nil {
		return apierr.NotFound("session %q not found", name)
	}

	if err := s.runner.KillPid(sess.PID, syscall.SIGTERM); err != nil {
		return apierr.Internal("signal session", err)
	}

	deadline := time.Now().Add(s.cfg.StopGrace)
	for time.Now().Before(deadline) && s.runner.IsProcessRunning(sess.PID) {
		time.Sleep(50 * time.Millisecond)
	}
	if s.runner.IsProcessRunning(sess.PID) {
		s.runner.KillPid(sess.PID, syscall.SIGKILL)
	}

	if opts.KillTmux && tmux != nil {
		_ = tmux.KillSession(sess.Name)
	}

	if err := s.store.RemoveSession(name); err != nil {
		return apierr.StateIO("remove session record", err)
	}
	return nil
}

// StopAllSessions stops every currently recorded session, for daemon
// shutdown with stopSessions requested.
func (s *Supervisor) StopAllSessions(opts StopOptions, tmux TmuxKiller) []error {
	sessions, err := s.store.ListSessions()
	if err != nil {
		return []error{apierr.StateIO("list sessions", err)}
	}
	var errs []error
	for _, sess := range sessions {
		if err := s.StopSession(sess.Name, opts, tmux); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ListSessions returns the currently recorded sessions, filtered by
// liveness so callers (notably the Router) never proxy to a ghost process,
// per spec §4.3.
func (s *Supervisor) ListSessions() ([]state.Session, error) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		return nil, apierr.StateIO("list sessions", err)
	}
	live := make([]state.Session, 0, len(sessions))
	for _, sess := range sessions {
		if s.runner.IsProcessRunning(sess.PID) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// RevalidationResult reports the outcome of a daemon-startup sweep.
type RevalidationResult struct {
	Valid   []state.Session
	Removed []state.Session
}

// RevalidateSessions is called at daemon startup: any recorded session
// whose pid is no longer alive is dropped, per spec §4.3.
func (s *Supervisor) RevalidateSessions() (RevalidationResult, error) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		return RevalidationResult{}, apierr.StateIO("list sessions", err)
	}
	var result RevalidationResult
	for _, sess := range sessions {
		if s.runner.IsProcessRunning(sess.PID) {
			result.Valid = append(result.Valid, sess)
			continue
		}
		if err := s.store.RemoveSession(sess.Name); err != nil {
			return result, apierr.StateIO(fmt.Sprintf("remove stale session %q", sess.Name), err)
		}
		result.Removed = append(result.Removed, sess)
	}
	return result, nil
}
