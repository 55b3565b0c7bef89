// Package daemon is the composition root: it wires StateStore, the session
// supervisor, the share manager, the router, the two proxies, and the
// control plane into one running process, per spec §4.9 / §4.10.
//
// Grounded on the teacher's run/daemon.Daemon (composing State,
// ProcessManager, HealthChecker, HTTPServer) and its DualLogger, renamed
// here to daemon.Logger and reused for every subsystem's logging rather
// than only the supervised child's stdout/stderr.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/xhd2015/ttyd-mux/internal/apierr"
	"github.com/xhd2015/ttyd-mux/internal/config"
	"github.com/xhd2015/ttyd-mux/internal/control"
	"github.com/xhd2015/ttyd-mux/internal/procutil"
	"github.com/xhd2015/ttyd-mux/internal/proxy"
	"github.com/xhd2015/ttyd-mux/internal/router"
	"github.com/xhd2015/ttyd-mux/internal/session"
	"github.com/xhd2015/ttyd-mux/internal/share"
	"github.com/xhd2015/ttyd-mux/internal/state"
)

// StateDirEnv is the environment variable naming the daemon's state
// directory (spec §6.5).
const StateDirEnv = "TTYD_MUX_STATE_DIR"

// ResolveStateDir returns $TTYD_MUX_STATE_DIR or
// $HOME/.local/state/ttyd-mux, per spec §6.1.
func ResolveStateDir() (string, error) {
	if dir := os.Getenv(StateDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("daemon: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "ttyd-mux"), nil
}

// Server is the running daemon.
type Server struct {
	cfg        config.Config
	configPath string
	stateDir   string
	logger     *Logger

	store      state.Store
	runner     procutil.Runner
	supervisor *session.Supervisor
	shares     *share.Manager
	rt         *router.Router
	httpProxy  *proxy.HTTPProxy
	wsProxy    *proxy.WSProxy
	plane      *control.Plane

	listeners []net.Listener
	httpSrv   *http.Server

	mu       sync.Mutex
	shutdown chan struct{}
}

// Options configures New.
type Options struct {
	Config         config.Config
	ConfigPath     string
	StateDir       string
	Logger         *Logger
	Runner         procutil.Runner
	BackendBuilder session.CommandBuilder
}

// New constructs a Server without binding any listeners yet.
func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		opts.Runner = procutil.NewOSRunner()
	}
	if opts.Logger == nil {
		l, err := NewLogger("")
		if err != nil {
			return nil, err
		}
		opts.Logger = l
	}

	store := state.NewFileStore(filepath.Join(opts.StateDir, "state.json"))
	supervisor := session.New(store, opts.Runner, session.Config{
		BasePath: opts.Config.BasePath,
		BasePort: opts.Config.BasePort,
		Builder:  opts.BackendBuilder,
	})
	shares := share.New(store)
	rt := router.New(opts.Config.BasePath, supervisor, shares)

	return &Server{
		cfg:        opts.Config,
		configPath: opts.ConfigPath,
		stateDir:   opts.StateDir,
		logger:     opts.Logger,
		store:      store,
		runner:     opts.Runner,
		supervisor: supervisor,
		shares:     shares,
		rt:         rt,
		httpProxy:  proxy.NewHTTPProxy(nil),
		wsProxy:    proxy.NewWSProxy(),
		shutdown:   make(chan struct{}),
	}, nil
}

// Start implements spec §4.9's composition sequence: ensure the state
// directory, revalidate sessions, remove stale sockets, bind HTTP and the
// control socket, register signal handlers, and write the DaemonRecord.
func (s *Server) Start() error {
	if err := os.MkdirAll(s.stateDir, 0700); err != nil {
		return fmt.Errorf("daemon: ensure state dir: %w", err)
	}

	result, err := s.supervisor.RevalidateSessions()
	if err != nil {
		return fmt.Errorf("daemon: revalidate sessions: %w", err)
	}
	s.logger.Log("revalidated sessions: %d valid, %d removed", len(result.Valid), len(result.Removed))

	s.plane = control.New(filepath.Join(s.stateDir, "ttyd-mux.sock"), s)
	if err := s.plane.Listen(); err != nil {
		return fmt.Errorf("daemon: listen control socket: %w", err)
	}
	go func() {
		if err := s.plane.Serve(); err != nil {
			s.logger.Log("control plane stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTTP)

	listenAddrs := s.cfg.ListenAddresses
	if len(listenAddrs) == 0 {
		listenAddrs = []string{"127.0.0.1"}
	}
	for _, host := range listenAddrs {
		addr := fmt.Sprintf("%s:%d", host, s.cfg.DaemonPort)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("daemon: listen %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, ln)
	}

	for _, sockPath := range s.cfg.ListenSockets {
		_ = os.Remove(sockPath)
		uln, err := net.Listen("unix", sockPath)
		if err != nil {
			return fmt.Errorf("daemon: listen unix %s: %w", sockPath, err)
		}
		s.listeners = append(s.listeners, uln)
	}

	s.httpSrv = &http.Server{Handler: mux}
	for _, ln := range s.listeners {
		go func(ln net.Listener) {
			if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
				s.logger.Log("http server on %s stopped: %v", ln.Addr(), err)
			}
		}(ln)
	}

	if err := s.store.SetDaemon(state.Daemon{
		PID:       os.Getpid(),
		Port:      s.cfg.DaemonPort,
		StartedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("daemon: write daemon record: %w", err)
	}

	s.logger.Log("ttyd-mux daemon listening on %v:%d (base path %s)", listenAddrs, s.cfg.DaemonPort, s.cfg.BasePath)
	return nil
}

// WaitForSignal blocks until SIGINT/SIGTERM or an explicit Shutdown, then
// performs graceful shutdown.
func (s *Server) WaitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		s.logger.Log("received signal %v, shutting down", sig)
		s.doShutdown(control.ShutdownRequest{StopSessions: false})
	case <-s.shutdown:
		// doShutdown holds s.mu until it finishes; wait for it.
		s.mu.Lock()
		s.mu.Unlock()
	}
}

// Shutdown implements control.Handler: it schedules an exit ~100ms after
// the control-socket reply has had a chance to be written, per spec §6.2.
func (s *Server) Shutdown(req control.ShutdownRequest) {
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.doShutdown(req)
	}()
}

func (s *Server) doShutdown(req control.ShutdownRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
		return
	default:
		close(s.shutdown)
	}

	if req.StopSessions {
		for _, err := range s.supervisor.StopAllSessions(session.StopOptions{KillTmux: req.KillTmux}, nil) {
			s.logger.Log("stop session during shutdown: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}
	if s.plane != nil {
		_ = s.plane.Close()
	}
	_ = s.store.ClearDaemon()
	for _, sockPath := range s.cfg.ListenSockets {
		_ = os.Remove(sockPath)
	}
	s.logger.Log("shutdown complete")
}

// Reload implements control.Handler: re-read configuration from the
// daemon's configured file and report which keys were hot-applied versus
// require a restart. A load error yields an empty result rather than
// crashing the control connection; it is logged instead.
func (s *Server) Reload() control.ReloadResult {
	newCfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Log("reload: %v", err)
		return control.ReloadResult{}
	}
	applied, requiresRestart := config.Diff(s.cfg, newCfg)
	// Restart-required keys keep their running values until the next start.
	newCfg.BasePath = s.cfg.BasePath
	newCfg.BasePort = s.cfg.BasePort
	newCfg.DaemonPort = s.cfg.DaemonPort
	newCfg.ListenAddresses = s.cfg.ListenAddresses
	newCfg.ListenSockets = s.cfg.ListenSockets
	s.cfg = newCfg
	return control.ReloadResult{Applied: applied, RequiresRestart: requiresRestart}
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := s.rt.Classify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch route.Kind {
	case router.KindPortal:
		s.servePortal(w, r)
	case router.KindAPI:
		s.serveAPI(w, r)
	case router.KindSession, router.KindShare:
		if isWebSocketUpgrade(r) {
			s.wsProxy.ServeWS(w, r, route.Session.Port, route.RewrittenPath, websocketSubprotocols(r), route.ReadOnly)
			return
		}
		s.httpProxy.ServeHTTP(w, r, route.Session.Port, route.RewrittenPath)
	default:
		http.NotFound(w, r)
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}

func websocketSubprotocols(r *http.Request) []string {
	v := r.Header.Get("Sec-WebSocket-Protocol")
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			out = append(out, trimSpace(v[start:i]))
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// servePortal renders a minimal placeholder page; a real portal UI is a
// collaborator concern (spec §1 out-of-scope: "browser JS").
func (s *Server) servePortal(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.supervisor.ListSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><head><title>ttyd-mux</title></head><body><h1>ttyd-mux</h1><ul>")
	for _, sess := range sessions {
		fmt.Fprintf(w, "<li><a href=\"%s%s/\">%s</a></li>", s.cfg.BasePath, html.EscapeString(sess.Path), html.EscapeString(sess.Name))
	}
	fmt.Fprint(w, "</ul></body></html>")
}

func (s *Server) fullPath(sess *state.Session) string {
	return s.cfg.BasePath + sess.Path
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.HTTPStatus(err), map[string]string{"error": err.Error()})
}

var _ control.Handler = (*Server)(nil)
