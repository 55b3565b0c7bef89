package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/xhd2015/ttyd-mux/internal/config"
	"github.com/xhd2015/ttyd-mux/internal/control"
	"github.com/xhd2015/ttyd-mux/internal/procutil"
	"github.com/xhd2015/ttyd-mux/internal/session"
)

// fixedPortBuilder is a session.CommandBuilder for tests: it never spawns a
// real backend (FakeRunner.Spawn is a no-op beyond bookkeeping), so the
// actual command is irrelevant.
func fixedPortBuilder(opts session.StartOptions, port int, urlPrefix string) (string, []string, []string) {
	return "fake-backend", nil, nil
}

func newTestServer(t *testing.T) (*Server, *procutil.FakeRunner, int) {
	t.Helper()
	runner := procutil.NewFakeRunner()
	daemonPort := 17000 + (int(time.Now().UnixNano() % 900))

	cfg := config.Default()
	cfg.DaemonPort = daemonPort
	cfg.BasePort = 7600
	cfg.BasePath = "/ttyd-mux"

	srv, err := New(Options{
		Config:         cfg,
		StateDir:       t.TempDir(),
		Runner:         runner,
		BackendBuilder: fixedPortBuilder,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.doShutdown(control.ShutdownRequest{}) })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s/api/healthz", daemonPort, cfg.BasePath)); err == nil {
			resp.Body.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return srv, runner, daemonPort
}

func TestHealthz(t *testing.T) {
	_, _, port := newTestServer(t)
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/healthz", port))
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPortalRendersHTML(t *testing.T) {
	_, _, port := newTestServer(t)
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/", port))
	if err != nil {
		t.Fatalf("GET portal: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ttyd-mux") {
		t.Fatalf("portal body missing ttyd-mux: %s", body)
	}
}

func TestStatusEmptyAtStartup(t *testing.T) {
	_, _, port := newTestServer(t)
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/status", port))
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Daemon   map[string]interface{} `json:"daemon"`
		Sessions []interface{}          `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Sessions) != 0 {
		t.Fatalf("sessions = %v, want empty", out.Sessions)
	}
	if out.Daemon == nil || out.Daemon["pid"] == nil {
		t.Fatalf("daemon record missing: %+v", out.Daemon)
	}
}

func TestCreateSessionAssignsExpectedPortAndPath(t *testing.T) {
	_, runner, port := newTestServer(t)
	runner.MarkPortBound(7601)

	body := strings.NewReader(`{"name":"demo","dir":"/tmp"}`)
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/sessions", port), "application/json", body)
	if err != nil {
		t.Fatalf("POST sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, b)
	}
	var view struct {
		Name     string `json:"name"`
		Port     int    `json:"port"`
		Path     string `json:"path"`
		FullPath string `json:"fullPath"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Port != 7601 {
		t.Errorf("port = %d, want 7601", view.Port)
	}
	if view.Path != "/demo" {
		t.Errorf("path = %q, want /demo", view.Path)
	}
	if view.FullPath != "/ttyd-mux/demo" {
		t.Errorf("fullPath = %q, want /ttyd-mux/demo", view.FullPath)
	}

	listResp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/sessions", port))
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	defer listResp.Body.Close()
	var list []map[string]interface{}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0]["name"] != "demo" {
		t.Fatalf("session list = %+v", list)
	}
}

func TestShareRoundTrip(t *testing.T) {
	_, runner, port := newTestServer(t)
	runner.MarkPortBound(7601)

	createBody := strings.NewReader(`{"name":"demo","dir":"/tmp"}`)
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/sessions", port), "application/json", createBody)
	if err != nil {
		t.Fatalf("POST sessions: %v", err)
	}
	resp.Body.Close()

	shareBody := strings.NewReader(`{"sessionName":"demo","expiresIn":"30m"}`)
	shareResp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/shares", port), "application/json", shareBody)
	if err != nil {
		t.Fatalf("POST shares: %v", err)
	}
	defer shareResp.Body.Close()
	if shareResp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(shareResp.Body)
		t.Fatalf("status = %d: %s", shareResp.StatusCode, b)
	}
	var sh struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(shareResp.Body).Decode(&sh); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sh.Token) != 32 {
		t.Fatalf("token length = %d, want 32", len(sh.Token))
	}

	getResp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/shares/%s", port, sh.Token))
	if err != nil {
		t.Fatalf("GET share: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", getResp.StatusCode)
	}

	delReq, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/shares/%s", port, sh.Token), nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE share: %v", err)
	}
	delResp.Body.Close()

	afterResp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/shares/%s", port, sh.Token))
	if err != nil {
		t.Fatalf("GET share after delete: %v", err)
	}
	defer afterResp.Body.Close()
	if afterResp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", afterResp.StatusCode)
	}
}

func TestDeleteSessionRemovesIt(t *testing.T) {
	_, runner, port := newTestServer(t)
	runner.MarkPortBound(7601)

	createBody := strings.NewReader(`{"name":"demo","dir":"/tmp"}`)
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/sessions", port), "application/json", createBody)
	if err != nil {
		t.Fatalf("POST sessions: %v", err)
	}
	resp.Body.Close()

	delReq, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/sessions/demo", port), nil)
	delResp, err := http.DefaultClient.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", delResp.StatusCode)
	}

	listResp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/sessions", port))
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	defer listResp.Body.Close()
	var list []map[string]interface{}
	json.NewDecoder(listResp.Body).Decode(&list)
	if len(list) != 0 {
		t.Fatalf("sessions after delete = %+v, want empty", list)
	}
}

func TestSessionNameSanitizedOnCreate(t *testing.T) {
	_, runner, port := newTestServer(t)
	runner.MarkPortBound(7601)

	body := strings.NewReader(`{"name":"weird name!","dir":"/tmp"}`)
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/ttyd-mux/api/sessions", port), "application/json", body)
	if err != nil {
		t.Fatalf("POST sessions: %v", err)
	}
	defer resp.Body.Close()
	var view struct {
		Name string `json:"name"`
	}
	json.NewDecoder(resp.Body).Decode(&view)
	if view.Name != "weird_name_" {
		t.Fatalf("name = %q, want weird_name_", view.Name)
	}
}
