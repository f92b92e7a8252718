package channel

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/lumenui/host/internal/errors"

	// Rate limiting for inbound events to prevent message flooding.
	"golang.org/x/time/rate"
)

// writeTimeout bounds how long a single command write may block on a slow
// or dead connection.
const writeTimeout = 10 * time.Second

// pingInterval is how often keepalive pings are sent. Pings detect dead
// connections and keep NAT/firewalls happy.
const pingInterval = 30 * time.Second

// readDeadline is reset on every pong. A connection that misses two ping
// rounds is considered dead.
const readDeadline = 60 * time.Second

// maxEventSize caps inbound event lines at 512KB, matching the write side.
const maxEventSize = 512 * 1024

// WebSocket is a Channel backed by a gorilla websocket connection.
//
// Commands are written as text frames. A background read pump consumes
// inbound event lines (forwarded to the optional handler) and records the
// close code when the connection dies, which is how the owning proxy
// observes CLOSED status.
type WebSocket struct {
	conn *websocket.Conn

	// writeMu serializes writes; gorilla permits one concurrent writer.
	writeMu sync.Mutex

	// mu guards closeCode and handler.
	mu        sync.Mutex
	closeCode *int

	// handler receives inbound event lines. May be nil, and may be set
	// after construction: an incoming connection is wrapped before the
	// session it belongs to is resolved.
	handler EventHandler

	// limiter bounds inbound events to protect the host from floods.
	limiter *rate.Limiter

	// closeOnce ensures the underlying connection is closed exactly once.
	closeOnce sync.Once

	// done is closed when the read pump exits, i.e. when the connection
	// is dead and its close code recorded.
	done chan struct{}
}

// NewWebSocket wraps an upgraded websocket connection and starts its read
// pump. The handler may be nil if inbound events are not of interest.
func NewWebSocket(conn *websocket.Conn, handler EventHandler) *WebSocket {
	ws := &WebSocket{
		conn:    conn,
		handler: handler,
		// 1000 events/sec with a burst of 10 mirrors the input limit
		// used for terminal-style clients.
		limiter: rate.NewLimiter(rate.Limit(1000), 10),
		done:    make(chan struct{}),
	}

	go ws.readPump()
	go ws.pingLoop()

	return ws
}

// Done returns a channel closed once the connection has died and its
// close code is recorded. The server edge uses this to trigger session
// disconnection.
func (ws *WebSocket) Done() <-chan struct{} {
	return ws.done
}

// SetHandler installs or replaces the inbound event handler.
func (ws *WebSocket) SetHandler(handler EventHandler) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.handler = handler
}

// Send writes one command line as a text frame.
// Returns a channel.closed error if the connection has already died, or a
// channel.send_failed error if the write itself fails.
func (ws *WebSocket) Send(text string) error {
	if ws.CloseCode() != nil {
		return apperrors.New(apperrors.CodeChannelClosed, "websocket already closed")
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		// A failed write means the connection is gone; record closure so
		// the proxy observes CLOSED on its next status check.
		ws.recordClose(websocket.CloseAbnormalClosure)
		return apperrors.Wrap(apperrors.CodeChannelSendFailed, "websocket write failed", err)
	}
	return nil
}

// CloseCode returns nil while the connection is open, and the websocket
// close code once it has died.
func (ws *WebSocket) CloseCode() *int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closeCode
}

// Close sends a close frame and tears down the connection. Idempotent.
func (ws *WebSocket) Close() error {
	ws.recordClose(websocket.CloseNormalClosure)

	var err error
	ws.closeOnce.Do(func() {
		ws.writeMu.Lock()
		ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		ws.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
	})
	return err
}

// recordClose stores the close code if none is recorded yet. The first
// observed code wins.
func (ws *WebSocket) recordClose(code int) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closeCode == nil {
		ws.closeCode = &code
	}
}

// readPump consumes inbound frames until the connection dies. Event lines
// are forwarded to the handler; the close code is recorded on exit.
func (ws *WebSocket) readPump() {
	defer func() {
		// Fallback for errors that carry no close frame.
		ws.recordClose(websocket.CloseAbnormalClosure)
		ws.closeOnce.Do(func() { ws.conn.Close() })
		close(ws.done)
	}()

	ws.conn.SetReadLimit(maxEventSize)
	ws.conn.SetReadDeadline(time.Now().Add(readDeadline))
	ws.conn.SetPongHandler(func(string) error {
		ws.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				ws.recordClose(closeErr.Code)
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				log.Printf("channel: read error: %v", err)
			}
			return
		}

		if !ws.limiter.Allow() {
			log.Printf("channel: inbound event rate limit exceeded, dropping event")
			continue
		}

		ws.mu.Lock()
		handler := ws.handler
		ws.mu.Unlock()

		if handler != nil {
			handler(string(data))
		}
	}
}

// pingLoop sends periodic pings until the connection closes.
func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if ws.CloseCode() != nil {
			return
		}
		ws.writeMu.Lock()
		ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := ws.conn.WriteMessage(websocket.PingMessage, nil)
		ws.writeMu.Unlock()
		if err != nil {
			ws.recordClose(websocket.CloseAbnormalClosure)
			return
		}
	}
}
