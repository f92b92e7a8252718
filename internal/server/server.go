// Package server is the HTTP/WebSocket edge of the host. It serves the
// bootstrap page for each session URL and upgrades the matching
// websocket endpoint into a session channel routed through the manager.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	// gorilla/websocket provides the WebSocket protocol implementation,
	// including close handling and ping/pong.
	"github.com/gorilla/websocket"

	"github.com/lumenui/host/internal/auth"
	"github.com/lumenui/host/internal/bootstrap"
	"github.com/lumenui/host/internal/channel"
	apperrors "github.com/lumenui/host/internal/errors"
	"github.com/lumenui/host/internal/session"
)

// Server serves session pages and websocket endpoints on the
// process-wide listener.
type Server struct {
	manager  *session.Manager
	listener *bootstrap.Listener

	upgrader websocket.Upgrader

	mu sync.Mutex

	// guard, when set, makes every request present the connection
	// token as a ?token= query parameter.
	guard *auth.Guard

	// explicitPort pins the listener port; 0 derives one.
	explicitPort int

	httpServer *http.Server
}

// NewServer creates the edge server. Call Start to bind and serve.
func NewServer(manager *session.Manager, listener *bootstrap.Listener) *Server {
	return &Server{
		manager:  manager,
		listener: listener,
		upgrader: websocket.Upgrader{
			// Session URLs are opened by launched local runtimes; the
			// token guard covers external access.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetGuard requires every request to carry a valid connection token.
func (s *Server) SetGuard(g *auth.Guard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = g
}

// SetExplicitPort pins the listener to a fixed port.
func (s *Server) SetExplicitPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.explicitPort = port
}

// Start ensures the listener is bound and serves on it. Blocks until
// Stop or a serve error; returns http.ErrServerClosed on graceful
// shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	explicitPort := s.explicitPort
	s.mu.Unlock()

	ln, err := s.listener.Ensure(explicitPort)
	if err != nil {
		return err
	}

	mux := s.createMux()
	s.mu.Lock()
	s.httpServer = &http.Server{Handler: mux}
	srv := s.httpServer
	s.mu.Unlock()

	log.Printf("server: serving on %s:%d", s.listener.Host(), s.listener.Port())
	return srv.Serve(ln)
}

// Stop shuts the HTTP server down. The listener binding is owned by the
// bootstrap listener and released separately.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// App inventory for discovery clients.
	mux.HandleFunc("/api/apps", s.handleApps)

	// Everything else is a session path: /<app>[-<id>]/ for the page,
	// /<app>[-<id>]/ws for the channel.
	mux.HandleFunc("/", s.handleSession)

	return mux
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	if err := s.checkToken(r); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"apps": s.manager.AppNames(),
	})
}

// handleSession routes one session path to the page or the websocket
// endpoint.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	appName, instanceID, isWS := parseSessionPath(r.URL.Path)

	if !s.manager.HasApp(appName) {
		log.Printf("server: request for unknown application %q", appName)
		http.NotFound(w, r)
		return
	}

	if isWS {
		s.handleWebSocket(w, r, appName, instanceID)
		return
	}

	if err := s.checkToken(r); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	s.servePage(w, r, appName, instanceID)
}

// handleWebSocket upgrades the connection and hands it to the manager
// for correlation. An unresolvable instance id closes the socket with a
// policy violation after the upgrade, since by then HTTP status codes
// can no longer be delivered.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, appName, instanceID string) {
	if err := s.checkToken(r); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	ch := channel.NewWebSocket(conn, nil)

	p, err := s.manager.ConnectIncoming(ch, appName, instanceID)
	if err != nil {
		log.Printf("server: connection rejected: %v", err)
		code := websocket.ClosePolicyViolation
		if apperrors.IsCode(err, apperrors.CodeAppUnknown) {
			code = websocket.CloseUnsupportedData
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, apperrors.GetMessage(err)))
		ch.Close()
		return
	}

	// Events now have a destination; late-bound because the proxy was
	// unknown until correlation resolved.
	ch.SetHandler(p.HandleEvent)

	// Watch for connection death and remove the session.
	go func() {
		<-ch.Done()
		s.manager.Disconnect(p)
	}()
}

func (s *Server) checkToken(r *http.Request) error {
	s.mu.Lock()
	guard := s.guard
	s.mu.Unlock()

	if guard == nil {
		return nil
	}
	return guard.Validate(r.URL.Query().Get("token"))
}

// parseSessionPath splits a request path into application name,
// instance id and whether it targets the websocket endpoint.
//
// The first path segment is "<app>" or "<app>-<id>". Application names
// never contain a dash while instance ids may, so the split is on the
// FIRST dash. An empty segment means the default application.
func parseSessionPath(path string) (appName, instanceID string, isWS bool) {
	path = strings.TrimPrefix(path, "/")
	if path == "ws" {
		// Default session endpoint: the page at "/" connects here.
		return session.DefaultAppName, "", true
	}
	if rest, ok := strings.CutSuffix(path, "/ws"); ok {
		isWS = true
		path = rest
	}

	seg := path
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}

	if seg == "" {
		return session.DefaultAppName, "", isWS
	}
	if i := strings.IndexByte(seg, '-'); i >= 0 {
		return seg[:i], seg[i+1:], isWS
	}
	return seg, "", isWS
}
