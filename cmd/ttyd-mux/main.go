// Command ttyd-mux is the CLI surface: it talks to a running ttyd-muxd
// daemon over its control HTTP API and control socket. The CLI surface
// itself is out of scope (spec §1), but a real main is needed to exercise
// the daemon end-to-end.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhd2015/kool/pkgs/web"
	"github.com/xhd2015/less-gen/flags"
	"github.com/xhd2015/ttyd-mux/internal/config"
	"github.com/xhd2015/ttyd-mux/internal/daemon"
	"golang.org/x/term"
)

var help = `Usage: ttyd-mux <command> [options]

Commands:
  ping                          check whether the daemon is reachable
  start --dir <dir> [--name n] [--path p]   start a session
  stop <name> [--kill-tmux]     stop a session
  list                          list sessions
  share <name> [--expires Nh]   create a share link for a session
  shutdown [--stop-sessions] [--kill-tmux]  shut the daemon down
  reload                        reload configuration
  open [name]                   open the portal (or a session) in a browser
  attach <name>                 attach this terminal directly to a session

Options:
  -h, --help   show this help message
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	args, err := flags.Help("-h,--help", help).Parse(args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Print(help)
		return nil
	}

	cmd := args[0]
	rest := args[1:]

	stateDir, err := daemon.ResolveStateDir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(stateDir + "/config.yaml")
	if err != nil {
		return err
	}
	client := &client{baseURL: fmt.Sprintf("http://127.0.0.1:%d%s/api", cfg.DaemonPort, cfg.BasePath), socketPath: stateDir + "/ttyd-mux.sock"}

	switch cmd {
	case "ping":
		return client.ping()
	case "start":
		return client.start(rest)
	case "stop":
		return client.stop(rest)
	case "list":
		return client.list()
	case "share":
		return client.share(rest)
	case "shutdown":
		return client.shutdown(rest)
	case "reload":
		return client.reload()
	case "open":
		return client.open(cfg, rest)
	case "attach":
		return client.attach(cfg, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// client is a thin wrapper around the daemon's control socket and control
// HTTP API.
type client struct {
	baseURL    string
	socketPath string
}

// sendControl sends a single line to the control socket and returns the
// reply, per spec §6.3.
func (c *client) sendControl(line string) (string, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, 2*time.Second)
	if err != nil {
		return "", fmt.Errorf("connect control socket: %w", err)
	}
	defer conn.Close()
	if _, err := fmt.Fprintln(conn, line); err != nil {
		return "", err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(reply, "\n"), nil
}

func (c *client) ping() error {
	reply, err := c.sendControl("ping")
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func (c *client) shutdown(args []string) error {
	var stopSessions, killTmux bool
	_, err := flags.Bool("--stop-sessions", &stopSessions).Bool("--kill-tmux", &killTmux).Parse(args)
	if err != nil {
		return err
	}
	line := "shutdown"
	if stopSessions && killTmux {
		line = "shutdown-with-sessions-kill-tmux"
	} else if stopSessions {
		line = "shutdown-with-sessions"
	}
	reply, err := c.sendControl(line)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func (c *client) reload() error {
	reply, err := c.sendControl("reload")
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func (c *client) start(args []string) error {
	var name, dir, path string
	_, err := flags.
		String("--name", &name).
		String("--dir", &dir).
		String("--path", &path).
		Parse(args)
	if err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("--dir is required")
	}
	body, _ := json.Marshal(map[string]string{"name": name, "dir": dir, "path": path})
	resp, err := http.Post(c.baseURL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request daemon: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func (c *client) stop(args []string) error {
	var killTmux bool
	args, err := flags.Bool("--kill-tmux", &killTmux).Parse(args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("session name required")
	}
	url := fmt.Sprintf("%s/sessions/%s", c.baseURL, args[0])
	if killTmux {
		url += "?killTmux=true"
	}
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request daemon: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func (c *client) list() error {
	resp, err := http.Get(c.baseURL + "/sessions")
	if err != nil {
		return fmt.Errorf("request daemon: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func (c *client) share(args []string) error {
	var expiresIn string
	args, err := flags.String("--expires", &expiresIn).Parse(args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("session name required")
	}
	body, _ := json.Marshal(map[string]string{"sessionName": args[0], "expiresIn": expiresIn})
	resp, err := http.Post(c.baseURL+"/shares", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request daemon: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func (c *client) open(cfg config.Config, args []string) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s/", cfg.DaemonPort, cfg.BasePath)
	if len(args) > 0 {
		url = fmt.Sprintf("http://127.0.0.1:%d%s%s/", cfg.DaemonPort, cfg.BasePath, "/"+args[0])
	}
	return web.OpenBrowser(url)
}

// attach dials the session's WebSocket endpoint directly (bypassing a
// browser entirely) and pipes the controlling terminal's stdin/stdout
// through it, putting the local terminal in raw mode for the duration.
// Grounded on ccoles146-termbrowser/config.RunFirstSetup's x/term usage
// (golang.org/x/term against syscall.Stdin), generalized from a one-shot
// password prompt to a full raw-mode passthrough session.
func (c *client) attach(cfg config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("session name required")
	}
	name := args[0]

	fd := int(syscall.Stdin)
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	url := fmt.Sprintf("ws://127.0.0.1:%d%s/%s/ws", cfg.DaemonPort, cfg.BasePath, name)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial session: %w", err)
	}
	defer conn.Close()

	if cols, rows, err := term.GetSize(fd); err == nil {
		resize, _ := json.Marshal(map[string]interface{}{"type": "resize", "cols": cols, "rows": rows})
		conn.WriteMessage(websocket.TextMessage, resize)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				os.Stdout.Write(data)
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				break
			}
		}
		if err != nil {
			break
		}
		select {
		case <-done:
			return nil
		default:
		}
	}
	<-done
	return nil
}

func printResponse(resp *http.Response) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return err
	}
	fmt.Println(buf.String())
	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}
