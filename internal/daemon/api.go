package daemon

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/xhd2015/ttyd-mux/internal/apierr"
	"github.com/xhd2015/ttyd-mux/internal/control"
	"github.com/xhd2015/ttyd-mux/internal/session"
	"github.com/xhd2015/ttyd-mux/internal/state"
)

// sessionView augments a Session with fullPath, per spec §6.2's status
// endpoint ("each session augmented with fullPath").
type sessionView struct {
	state.Session
	FullPath string `json:"fullPath"`
}

func (s *Server) toView(sess state.Session) sessionView {
	return sessionView{Session: sess, FullPath: s.fullPath(&sess)}
}

// serveAPI implements the Control HTTP API table of spec §6.2, reached
// under BasePath + "/api/".
func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, s.cfg.BasePath+"/api")

	switch {
	case path == "/healthz" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case path == "/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case path == "/sessions" && r.Method == http.MethodGet:
		s.handleListSessions(w, r)
	case path == "/sessions" && r.Method == http.MethodPost:
		s.handleCreateSession(w, r)
	case strings.HasPrefix(path, "/sessions/") && r.Method == http.MethodDelete:
		s.handleDeleteSession(w, r, strings.TrimPrefix(path, "/sessions/"))
	case path == "/shutdown" && r.Method == http.MethodPost:
		s.handleShutdown(w, r)
	case path == "/shares" && r.Method == http.MethodGet:
		s.handleListShares(w, r)
	case path == "/shares" && r.Method == http.MethodPost:
		s.handleCreateShare(w, r)
	case strings.HasPrefix(path, "/shares/") && r.Method == http.MethodGet:
		s.handleGetShare(w, r, strings.TrimPrefix(path, "/shares/"))
	case strings.HasPrefix(path, "/shares/") && r.Method == http.MethodDelete:
		s.handleDeleteShare(w, r, strings.TrimPrefix(path, "/shares/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDaemon()
	if err != nil {
		writeAPIError(w, apierr.StateIO("read daemon record", err))
		return
	}
	sessions, err := s.supervisor.ListSessions()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.toView(sess))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"daemon": d, "sessions": views})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.supervisor.ListSessions()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.toView(sess))
	}
	writeJSON(w, http.StatusOK, views)
}

type createSessionBody struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
	Path string `json:"path"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, apierr.Validation("invalid request body: %v", err))
		return
	}
	sess, err := s.supervisor.StartSession(session.StartOptions{Name: body.Name, Dir: body.Dir, Path: body.Path})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toView(*sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, name string) {
	killTmux := r.URL.Query().Get("killTmux") == "true"
	if err := s.supervisor.StopSession(name, session.StopOptions{KillTmux: killTmux}, nil); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type shutdownBody struct {
	StopSessions bool `json:"stopSessions"`
	KillTmux     bool `json:"killTmux"`
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var body shutdownBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	s.Shutdown(control.ShutdownRequest{StopSessions: body.StopSessions, KillTmux: body.KillTmux})
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	if _, err := s.shares.CleanupExpiredShares(); err != nil {
		writeAPIError(w, err)
		return
	}
	shares, err := s.shares.ListShares()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

type createShareBody struct {
	SessionName string `json:"sessionName"`
	ExpiresIn   string `json:"expiresIn"`
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var body createShareBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, apierr.Validation("invalid request body: %v", err))
		return
	}
	sh, err := s.shares.CreateShare(body.SessionName, body.ExpiresIn)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request, token string) {
	sess, err := s.shares.ValidateShare(token)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	sh, err := s.store.GetShare(token)
	if err != nil || sh == nil {
		writeAPIError(w, apierr.NotFound("share token not found"))
		return
	}
	_ = sess
	writeJSON(w, http.StatusOK, sh)
}

func (s *Server) handleDeleteShare(w http.ResponseWriter, r *http.Request, token string) {
	if err := s.shares.RevokeShare(token); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

