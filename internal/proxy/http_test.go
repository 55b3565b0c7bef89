package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func backendPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse backend URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse backend port: %v", err)
	}
	return port
}

func TestHTTPProxyForwardsRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws-status" {
			t.Errorf("backend saw path %q, want /ws-status", r.URL.Path)
		}
		if r.Header.Get("X-Forwarded-Host") == "" {
			t.Error("expected X-Forwarded-Host to be set")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	p := NewHTTPProxy(nil)
	req := httptest.NewRequest(http.MethodGet, "/demo/ws-status", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req, backendPort(t, backend), "/ws-status")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q, want ok", body)
	}
}

func TestHTTPProxyReturns502OnUnreachableBackend(t *testing.T) {
	p := NewHTTPProxy(nil)
	req := httptest.NewRequest(http.MethodGet, "/demo/", nil)
	rec := httptest.NewRecorder()

	// Port 1 is reserved and never bound to by a test server.
	p.ServeHTTP(rec, req, 1, "/")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestHTTPProxyModifyResponseHookRuns(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer backend.Close()

	called := false
	p := NewHTTPProxy(func(resp *http.Response) error {
		called = true
		return nil
	})
	req := httptest.NewRequest(http.MethodGet, "/demo/", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req, backendPort(t, backend), "/")

	if !called {
		t.Error("expected ModifyResponse hook to run")
	}
}
