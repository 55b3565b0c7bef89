// Package router implements the stateless request classifier described in
// spec §4.4: given the daemon's configured base path, it decides whether an
// inbound request is the portal, a control-API call, a share entry point,
// or session traffic to proxy.
//
// Grounded on the teacher's server/server.go http.NewServeMux registration
// style and ccoles146-termbrowser/server/server.go's prefix-based {id...}
// dispatch, generalized from a fixed handler table into a classifier that
// computes its target per request rather than per route, since session
// prefixes are created and destroyed at runtime.
package router

import (
	"net/http"
	"strings"

	"github.com/xhd2015/ttyd-mux/internal/state"
)

// Kind identifies which surface a request was classified into.
type Kind int

const (
	KindNotFound Kind = iota
	KindPortal
	KindAPI
	KindShare
	KindSession
)

// SessionLister is the capability Router needs from SessionSupervisor: the
// current, liveness-filtered set of sessions to match URL prefixes against.
type SessionLister interface {
	ListSessions() ([]state.Session, error)
}

// ShareResolver is the capability Router needs from ShareManager: resolving
// a share token to its backing session.
type ShareResolver interface {
	ValidateShare(token string) (*state.Session, error)
}

// Router classifies requests under BasePath.
type Router struct {
	BasePath string
	Sessions SessionLister
	Shares   ShareResolver
}

func New(basePath string, sessions SessionLister, shares ShareResolver) *Router {
	return &Router{BasePath: normalizeBasePath(basePath), Sessions: sessions, Shares: shares}
}

func normalizeBasePath(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Route is the classification result.
type Route struct {
	Kind Kind

	// Session is populated for KindSession and KindShare.
	Session *state.Session

	// RewrittenPath is the path to forward to the backend: for KindSession
	// it's the request path with the session's full prefix stripped; for
	// KindShare it's the request path with the share prefix rewritten to
	// the session's prefix, then stripped the same way (spec §4.4 share
	// entry rewrite rule).
	RewrittenPath string

	// ReadOnly marks share-originated traffic for WSProxy's input filter
	// (spec §4.6).
	ReadOnly bool
}

// Classify implements spec §4.4's ordering: portal, then API, then share,
// then session prefix, else 404. Ties cannot occur because session names
// never begin with the reserved "api", "s", or "share" segments.
func (r *Router) Classify(req *http.Request) (Route, error) {
	path := req.URL.Path

	if path == r.BasePath || path == r.BasePath+"/" {
		if req.Method == http.MethodGet {
			return Route{Kind: KindPortal}, nil
		}
		return Route{Kind: KindNotFound}, nil
	}

	rest, ok := stripPrefix(path, r.BasePath)
	if !ok {
		return Route{Kind: KindNotFound}, nil
	}

	if strings.HasPrefix(rest, "/api/") || rest == "/api" {
		return Route{Kind: KindAPI}, nil
	}

	if shareRest, ok := stripAny(rest, "/s/", "/share/"); ok {
		token, remainder := splitFirstSegment(shareRest)
		sess, err := r.Shares.ValidateShare(token)
		if err != nil || sess == nil {
			return Route{Kind: KindNotFound}, nil
		}
		return Route{
			Kind:          KindShare,
			Session:       sess,
			RewrittenPath: remainder,
			ReadOnly:      true,
		}, nil
	}

	sessions, err := r.Sessions.ListSessions()
	if err != nil {
		return Route{}, err
	}
	for i := range sessions {
		sess := &sessions[i]
		if prefixRest, ok := stripPrefix(rest, sess.Path); ok {
			return Route{
				Kind:          KindSession,
				Session:       sess,
				RewrittenPath: prefixRest,
			}, nil
		}
	}

	return Route{Kind: KindNotFound}, nil
}

// stripPrefix returns path with prefix removed, requiring an exact match or
// a '/'-bounded prefix match, so "/demo2" never matches prefix "/demo".
func stripPrefix(path, prefix string) (string, bool) {
	if prefix == "" {
		return path, true
	}
	if path == prefix {
		return "/", true
	}
	if strings.HasPrefix(path, prefix+"/") {
		return path[len(prefix):], true
	}
	return "", false
}

// stripAny tries each of the given literal prefixes (not '/'-bounded;
// the prefixes already end in '/').
func stripAny(path string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return path[len(p)-1:], true // keep leading '/'
		}
	}
	return "", false
}

// splitFirstSegment splits "/token/rest..." into ("token", "/rest...").
func splitFirstSegment(path string) (first string, rest string) {
	path = strings.TrimPrefix(path, "/")
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, "/"
	}
	return path[:idx], path[idx:]
}
