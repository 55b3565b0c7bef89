// Package proxy implements HTTPProxy and WSProxy: forwarding an inbound
// request to a session's loopback backend (spec §4.5, §4.6).
//
// Grounded on the teacher's server/proxy/basic_auth_proxy/proxy.go (the
// shape of a forward proxy sitting in front of a local backend) generalized
// from a shelled-out proxy binary to an in-process net/http/httputil
// reverse proxy, since the teacher's own server/server.go already imports
// httputil for this purpose elsewhere.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// ModifyResponse is the collaborator hook of spec §4.5: a no-op by default,
// callers may inject HTML rewriting here. The core defines the seam only.
type ModifyResponse func(*http.Response) error

// HTTPProxy forwards to a session's backend at 127.0.0.1:port.
type HTTPProxy struct {
	ModifyResponse ModifyResponse
}

func NewHTTPProxy(modify ModifyResponse) *HTTPProxy {
	return &HTTPProxy{ModifyResponse: modify}
}

// hopByHopHeaders are stripped before forwarding either direction, per the
// HTTP/1.1 spec and spec §4.5's correctness contract.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// ServeHTTP forwards req to the backend at port, rewriting req.URL.Path to
// rewrittenPath first (Router has already stripped the session/share
// prefix). On upstream failure it replies 502 with a small HTML body,
// matching spec §4.5, as long as no bytes have been written yet.
func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, req *http.Request, port int, rewrittenPath string) {
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}

	rp := httputil.NewSingleHostReverseProxy(target)
	originalDirector := rp.Director
	rp.Director = func(r *http.Request) {
		originalDirector(r)
		r.URL.Path = rewrittenPath
		r.URL.RawPath = ""
		r.Host = target.Host
		for _, h := range hopByHopHeaders {
			r.Header.Del(h)
		}
		r.Header.Set("X-Forwarded-Host", req.Host)
		r.Header.Set("X-Forwarded-Proto", schemeOf(req))
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			r.Header.Set("X-Forwarded-For", prior+", "+req.RemoteAddr)
		} else {
			r.Header.Set("X-Forwarded-For", req.RemoteAddr)
		}
	}
	rp.ModifyResponse = func(resp *http.Response) error {
		for _, h := range hopByHopHeaders {
			resp.Header.Del(h)
		}
		if p.ModifyResponse != nil {
			return p.ModifyResponse(resp)
		}
		return nil
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "<html><body><h1>502 Bad Gateway</h1><p>backend on port %d is unreachable: %v</p></body></html>", port, err)
	}

	rp.ServeHTTP(w, req)
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
