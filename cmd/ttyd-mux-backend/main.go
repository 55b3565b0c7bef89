// Command ttyd-mux-backend is a minimal per-directory terminal backend: it
// starts one PTY-backed shell and serves it over HTTP + WebSocket on a
// loopback port, under an optional URL prefix. The daemon spawns one of
// these per session (internal/session.Supervisor) and proxies to it
// (internal/proxy); the backend's own internals are a reference
// implementation, not the thing under spec.
//
// Grounded on the teacher's server/terminal.RegisterAPI/handleTerminalWebSocket
// (PTY spawn, scrollback ring buffer, resize control messages) and
// ccoles146-termbrowser/terminal.Session (persistent PTY reader decoupled
// from the WebSocket's lifetime, so reconnects don't lose output).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"github.com/xhd2015/less-gen/flags"
)

var help = `Usage: ttyd-mux-backend --port <port> [--prefix <prefix>] [--shell <shell>]

Serves one PTY-backed shell session over HTTP + WebSocket on 127.0.0.1:port.
Spawned by ttyd-muxd, one per session directory.

Options:
  --port <port>     TCP port to listen on (required)
  --prefix <prefix> URL prefix the daemon will proxy this backend under
  --shell <shell>   shell to run (default: $SHELL or /bin/bash)
  -h, --help        show this help message
`

// maxScrollback bounds the ring buffer replayed to a newly attached client,
// per the teacher's server/terminal.maxScrollback.
const maxScrollback = 256 * 1024

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var portStr, prefix, shell string
	_, err := flags.
		String("--port", &portStr).
		String("--prefix", &prefix).
		String("--shell", &shell).
		Help("-h,--help", help).
		Parse(args)
	if err != nil {
		return err
	}
	if portStr == "" {
		return fmt.Errorf("--port is required")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid --port %q: %w", portStr, err)
	}
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}

	term, err := newTerminal(shell)
	if err != nil {
		return fmt.Errorf("start terminal: %w", err)
	}

	mux := http.NewServeMux()
	base := prefix
	mux.HandleFunc(base+"/ws", term.serveWS)
	mux.HandleFunc(base+"/", term.serveIndex)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("ttyd-mux-backend listening on %s (prefix %q, shell %s)", addr, prefix, shell)
	return http.ListenAndServe(addr, mux)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// resizeMsg is the JSON control message a client sends to resize the PTY,
// matching ccoles146-termbrowser/terminal.resizeMsg's wire shape.
type resizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// terminal is the single PTY-backed session this process serves. Unlike
// the teacher's sessionManager, there is exactly one per process: one
// backend per directory, per spec §4.2.
type terminal struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu         sync.Mutex
	scrollback []byte
	conn       *websocket.Conn
}

func newTerminal(shell string) (*terminal, error) {
	cmd := exec.Command(shell, "-i")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80})

	t := &terminal{cmd: cmd, ptmx: ptmx}
	go t.readLoop()
	return t, nil
}

func (t *terminal) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			t.mu.Lock()
			t.scrollback = append(t.scrollback, data...)
			if len(t.scrollback) > maxScrollback {
				t.scrollback = t.scrollback[len(t.scrollback)-maxScrollback:]
			}
			conn := t.conn
			t.mu.Unlock()
			if conn != nil {
				conn.WriteMessage(websocket.BinaryMessage, data)
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("pty read: %v", err)
			}
			return
		}
	}
}

func (t *terminal) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	scrollback := append([]byte(nil), t.scrollback...)
	t.mu.Unlock()

	if len(scrollback) > 0 {
		conn.WriteMessage(websocket.BinaryMessage, scrollback)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			t.ptmx.Write(data)
		case websocket.TextMessage:
			var msg resizeMsg
			if json.Unmarshal(data, &msg) == nil && msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				pty.Setsize(t.ptmx, &pty.Winsize{Rows: msg.Rows, Cols: msg.Cols})
			}
		}
	}

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
}

func (t *terminal) serveIndex(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "<html><body>backend terminal endpoint; connect over /ws</body></html>")
}
