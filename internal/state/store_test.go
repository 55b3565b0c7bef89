package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNextPortSkipsUsed(t *testing.T) {
	s := NewMemStore()
	if err := s.AddSession(Session{Name: "a", Port: 7601}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetNextPort(7600)
	if err != nil {
		t.Fatal(err)
	}
	if got != 7602 {
		t.Fatalf("GetNextPort = %d, want 7602", got)
	}
}

func TestGetNextPathCollapsesSlashes(t *testing.T) {
	s := NewMemStore()
	got, _ := s.GetNextPath("/ttyd-mux/", "demo")
	if got != "/ttyd-mux/demo" {
		t.Fatalf("GetNextPath = %q, want /ttyd-mux/demo", got)
	}
}

func TestAddSessionUpsertsByName(t *testing.T) {
	s := NewMemStore()
	s.AddSession(Session{Name: "demo", Port: 1, Path: "/demo"})
	s.AddSession(Session{Name: "demo", Port: 2, Path: "/demo"})

	sessions, _ := s.ListSessions()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session after upsert, got %d", len(sessions))
	}
	if sessions[0].Port != 2 {
		t.Fatalf("expected last-writer-wins port 2, got %d", sessions[0].Port)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s1 := NewFileStore(path)

	now := time.Now().Truncate(time.Second)
	if err := s1.SetDaemon(Daemon{PID: 123, Port: 7680, StartedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := s1.AddSession(Session{Name: "demo", PID: 1, Port: 7601, Path: "/demo", Dir: "/tmp"}); err != nil {
		t.Fatal(err)
	}
	if err := s1.AddShare(Share{Token: "abc", SessionName: "demo", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	s2 := NewFileStore(path)
	d, err := s2.GetDaemon()
	if err != nil || d == nil || d.PID != 123 {
		t.Fatalf("GetDaemon mismatch: %+v err=%v", d, err)
	}
	sessions, _ := s2.ListSessions()
	if len(sessions) != 1 || sessions[0].Name != "demo" {
		t.Fatalf("sessions mismatch: %+v", sessions)
	}
	shares, _ := s2.ListShares()
	if len(shares) != 1 || shares[0].Token != "abc" {
		t.Fatalf("shares mismatch: %+v", shares)
	}
}

func TestFileStoreCorruptIsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatalf("corrupt state should not error: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty sessions, got %v", sessions)
	}
}

func TestExtraKeysRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte(`{"daemon":null,"futureKey":{"x":1}}`), 0600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	if err := s.AddSession(Session{Name: "a", Port: 1}); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(raw, `"futureKey"`) {
		t.Fatalf("expected futureKey to round-trip, got: %s", raw)
	}
}

func contains(haystack []byte, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(string(haystack), needle) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
