package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xhd2015/ttyd-mux/internal/state"
)

type fakeSessions struct {
	sessions []state.Session
}

func (f fakeSessions) ListSessions() ([]state.Session, error) { return f.sessions, nil }

type fakeShares struct {
	byToken map[string]*state.Session
}

func (f fakeShares) ValidateShare(token string) (*state.Session, error) {
	return f.byToken[token], nil
}

func newTestRouter() *Router {
	sessions := fakeSessions{sessions: []state.Session{
		{Name: "demo", Path: "/demo", Port: 7601},
	}}
	shares := fakeShares{byToken: map[string]*state.Session{
		"tok123": {Name: "demo", Path: "/demo", Port: 7601},
	}}
	return New("/ttyd-mux", sessions, shares)
}

func classify(t *testing.T, r *Router, method, path string) Route {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	route, err := r.Classify(req)
	if err != nil {
		t.Fatalf("Classify(%s): %v", path, err)
	}
	return route
}

func TestClassifyPortal(t *testing.T) {
	r := newTestRouter()
	if got := classify(t, r, http.MethodGet, "/ttyd-mux").Kind; got != KindPortal {
		t.Errorf("kind = %v, want Portal", got)
	}
	if got := classify(t, r, http.MethodGet, "/ttyd-mux/").Kind; got != KindPortal {
		t.Errorf("kind = %v, want Portal", got)
	}
	if got := classify(t, r, http.MethodPost, "/ttyd-mux").Kind; got != KindNotFound {
		t.Errorf("POST to portal: kind = %v, want NotFound", got)
	}
}

func TestClassifyAPI(t *testing.T) {
	r := newTestRouter()
	if got := classify(t, r, http.MethodGet, "/ttyd-mux/api/status").Kind; got != KindAPI {
		t.Errorf("kind = %v, want API", got)
	}
}

func TestClassifyShare(t *testing.T) {
	r := newTestRouter()
	route := classify(t, r, http.MethodGet, "/ttyd-mux/s/tok123/ws")
	if route.Kind != KindShare {
		t.Fatalf("kind = %v, want Share", route.Kind)
	}
	if !route.ReadOnly {
		t.Error("expected share route to be read-only")
	}
	if route.RewrittenPath != "/ws" {
		t.Errorf("rewritten path = %q, want /ws", route.RewrittenPath)
	}

	route = classify(t, r, http.MethodGet, "/ttyd-mux/share/tok123/ws")
	if route.Kind != KindShare || route.RewrittenPath != "/ws" {
		t.Errorf("long-form share prefix: got %+v", route)
	}
}

func TestClassifyShareUnknownTokenIs404(t *testing.T) {
	r := newTestRouter()
	route := classify(t, r, http.MethodGet, "/ttyd-mux/s/nope/ws")
	if route.Kind != KindNotFound {
		t.Errorf("kind = %v, want NotFound", route.Kind)
	}
}

func TestClassifySession(t *testing.T) {
	r := newTestRouter()
	route := classify(t, r, http.MethodGet, "/ttyd-mux/demo/ws")
	if route.Kind != KindSession {
		t.Fatalf("kind = %v, want Session", route.Kind)
	}
	if route.Session.Name != "demo" {
		t.Errorf("session = %+v", route.Session)
	}
	if route.RewrittenPath != "/ws" {
		t.Errorf("rewritten path = %q, want /ws", route.RewrittenPath)
	}
	if route.ReadOnly {
		t.Error("direct session route must not be read-only")
	}
}

func TestClassifySessionDoesNotMatchSimilarName(t *testing.T) {
	r := newTestRouter()
	route := classify(t, r, http.MethodGet, "/ttyd-mux/demo2/ws")
	if route.Kind != KindNotFound {
		t.Errorf("kind = %v, want NotFound (demo2 must not match demo prefix)", route.Kind)
	}
}

func TestClassifyNotFound(t *testing.T) {
	r := newTestRouter()
	if got := classify(t, r, http.MethodGet, "/other").Kind; got != KindNotFound {
		t.Errorf("kind = %v, want NotFound", got)
	}
}
