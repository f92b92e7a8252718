package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenui/host/internal/auth"
	"github.com/lumenui/host/internal/session"
)

// =============================================================================
// Fixtures
// =============================================================================

type echoApp struct{}

func (a *echoApp) HandleEvent(text string) {}

type echoClass struct{ name string }

func (c *echoClass) AppName() string                   { return c.name }
func (c *echoClass) New(p *session.Proxy) (any, error) { return &echoApp{}, nil }

func newTestServer(t *testing.T) (*Server, *session.Manager, *httptest.Server) {
	t.Helper()
	m := session.NewManager(nil, nil)
	if err := m.RegisterApplication(&echoClass{name: "Calc"}); err != nil {
		t.Fatalf("RegisterApplication failed: %v", err)
	}

	s := NewServer(m, nil)
	ts := httptest.NewServer(s.createMux())
	t.Cleanup(ts.Close)
	return s, m, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// =============================================================================
// Path parsing
// =============================================================================

func TestParseSessionPath(t *testing.T) {
	tests := []struct {
		path    string
		appName string
		id      string
		isWS    bool
	}{
		{"/", session.DefaultAppName, "", false},
		{"/ws", session.DefaultAppName, "", true},
		{"/Calc/", "Calc", "", false},
		{"/Calc", "Calc", "", false},
		{"/Calc/ws", "Calc", "", true},
		{"/Calc-51cc/", "Calc", "51cc", false},
		{"/Calc-51cc/ws", "Calc", "51cc", true},
		// Instance ids may contain dashes; the split is on the first.
		{"/Calc-51cc-9cf4/ws", "Calc", "51cc-9cf4", true},
	}

	for _, tt := range tests {
		appName, id, isWS := parseSessionPath(tt.path)
		if appName != tt.appName || id != tt.id || isWS != tt.isWS {
			t.Errorf("parseSessionPath(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.path, appName, id, isWS, tt.appName, tt.id, tt.isWS)
		}
	}
}

// =============================================================================
// HTTP surface
// =============================================================================

func TestServer_Health(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_AppsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/apps")
	if err != nil {
		t.Fatalf("GET /api/apps failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Apps []string `json:"apps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	found := false
	for _, name := range body.Apps {
		if name == "Calc" {
			found = true
		}
	}
	if !found {
		t.Errorf("apps = %v, want Calc included", body.Apps)
	}
}

func TestServer_PageForRegisteredApp(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/Calc/")
	if err != nil {
		t.Fatalf("GET /Calc/ failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
}

func TestServer_UnknownAppIs404(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/Ghost/")
	if err != nil {
		t.Fatalf("GET /Ghost/ failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	// The websocket endpoint rejects before upgrading.
	_, resp2, err := websocket.DefaultDialer.Dial(wsURL(ts, "/Ghost/ws"), nil)
	if err == nil {
		t.Fatal("dial to unknown app should fail")
	}
	if resp2 == nil || resp2.StatusCode != http.StatusNotFound {
		t.Errorf("ws handshake response = %v, want 404", resp2)
	}
}

// =============================================================================
// WebSocket session flow
// =============================================================================

func TestServer_ConnectDeliversBufferedCommands(t *testing.T) {
	_, m, ts := newTestServer(t)

	p, err := m.Launch("Calc", session.KindNotebook, nil)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := p.Exec("x=1"); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/Calc-"+p.ID()+"/ws"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "EXEC x=1" {
		t.Errorf("received %q, want %q", data, "EXEC x=1")
	}

	waitFor(t, "proxy to connect", func() bool {
		return p.Status() == session.StatusConnected
	})
}

func TestServer_DanglingIDClosedWithPolicyViolation(t *testing.T) {
	_, _, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/Calc-no-such-id/ws"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("read error = %v, want close error", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.ClosePolicyViolation)
	}
}

func TestServer_DisconnectRemovesSession(t *testing.T) {
	_, m, ts := newTestServer(t)

	p, err := m.Launch("Calc", session.KindNotebook, nil)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/Calc-"+p.ID()+"/ws"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	waitFor(t, "proxy to connect", func() bool {
		return p.Status() == session.StatusConnected
	})

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
	conn.Close()

	waitFor(t, "session removal", func() bool {
		_, ok := m.ProxyByID("Calc", p.ID())
		return !ok
	})
	if p.Status() != session.StatusClosed {
		t.Errorf("status = %s, want closed", p.Status())
	}
}

// =============================================================================
// Token guard
// =============================================================================

func TestServer_TokenGuard(t *testing.T) {
	s, _, ts := newTestServer(t)

	token, err := auth.NewToken()
	if err != nil {
		t.Fatalf("NewToken failed: %v", err)
	}
	guard, err := auth.NewGuard(token)
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}
	s.SetGuard(guard)

	resp, err := http.Get(ts.URL + "/Calc/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/Calc/?token=" + token)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", resp.StatusCode)
	}

	// The websocket endpoint enforces the token before upgrading.
	_, wsResp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/Calc/ws"), nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if wsResp == nil || wsResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("ws handshake response = %v, want 401", wsResp)
	}
}
