package proxy

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func deadlineNow() time.Time {
	return time.Now().Add(time.Second)
}

// inputCommandByte is the backend terminal protocol's "input" command byte
// (ASCII '0'); WSProxy drops client→backend binary frames beginning with it
// when ReadOnly is set, per spec §4.6.
const inputCommandByte = 0x30

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WSProxy bridges an inbound WebSocket upgrade to a session's backend,
// grounded on gorilla/websocket usage in ccoles146-termbrowser/terminal and
// the teacher's server/terminal/terminal.go (upgrader construction,
// ReadMessage/WriteMessage loops), and on server/subprocess/manager.go's
// stopChan/doneChan pattern generalized into the sync.Once-guarded close
// coordination spec §4.6 step 4 requires.
type WSProxy struct{}

func NewWSProxy() *WSProxy { return &WSProxy{} }

// ServeWS implements spec §4.6's 5-step protocol. port/rewrittenPath locate
// the backend; subprotocols is forwarded from the inbound
// Sec-WebSocket-Protocol header; readOnly enables the input-command filter
// for share traffic.
func (p *WSProxy) ServeWS(w http.ResponseWriter, req *http.Request, port int, rewrittenPath string, subprotocols []string, readOnly bool) {
	backendURL := fmt.Sprintf("ws://127.0.0.1:%d%s", port, rewrittenPath)
	if req.URL.RawQuery != "" {
		backendURL += "?" + req.URL.RawQuery
	}

	dialer := websocket.Dialer{Subprotocols: subprotocols}
	backendConn, _, err := dialer.Dial(backendURL, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("backend unreachable: %v", err), http.StatusBadGateway)
		return
	}

	clientUpgrader := upgrader
	clientUpgrader.Subprotocols = subprotocols
	clientConn, err := clientUpgrader.Upgrade(w, req, nil)
	if err != nil {
		backendConn.Close()
		return
	}

	bridge := &wsBridge{client: clientConn, backend: backendConn, readOnly: readOnly}
	bridge.run()
}

// wsBridge forwards frames in both directions and coordinates a single
// cleanup no matter which side closes or errors first.
type wsBridge struct {
	client  *websocket.Conn
	backend *websocket.Conn

	readOnly bool

	closeOnce sync.Once
	done      chan struct{}
}

func (b *wsBridge) run() {
	b.done = make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		b.pump(b.client, b.backend, b.readOnly)
	}()
	go func() {
		defer wg.Done()
		b.pump(b.backend, b.client, false)
	}()

	wg.Wait()
}

// pump reads frames from src and writes them to dst, applying the input
// filter when filterInput is set. It exits on the first read error and
// triggers cleanup; filterInput frames whose backend-bound command byte is
// inputCommandByte are silently dropped instead of forwarded.
func (b *wsBridge) pump(src, dst *websocket.Conn, filterInput bool) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			b.cleanup(websocket.CloseAbnormalClosure, "")
			return
		}

		if filterInput && msgType == websocket.BinaryMessage && len(data) > 0 && data[0] == inputCommandByte {
			continue
		}

		select {
		case <-b.done:
			return
		default:
		}

		if err := dst.WriteMessage(msgType, data); err != nil {
			b.cleanup(websocket.CloseAbnormalClosure, "")
			return
		}
	}
}

// cleanup runs at most once: it closes both sides, sending a close frame
// with code/reason to whichever side is still open.
func (b *wsBridge) cleanup(code int, reason string) {
	b.closeOnce.Do(func() {
		close(b.done)
		closeMsg := websocket.FormatCloseMessage(code, reason)
		if err := b.client.WriteControl(websocket.CloseMessage, closeMsg, deadlineNow()); err != nil {
			log.Printf("wsbridge: client close write: %v", err)
		}
		if err := b.backend.WriteControl(websocket.CloseMessage, closeMsg, deadlineNow()); err != nil {
			log.Printf("wsbridge: backend close write: %v", err)
		}
		b.client.Close()
		b.backend.Close()
	})
}
