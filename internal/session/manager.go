package session

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/lumenui/host/internal/bootstrap"
	"github.com/lumenui/host/internal/channel"
	apperrors "github.com/lumenui/host/internal/errors"
)

// Recorder receives session lifecycle events for auditing. Recording
// failures are logged, never surfaced: the audit log is advisory.
type Recorder interface {
	RecordEvent(proxyID, appName, event string, at time.Time) error
}

// Lifecycle event names passed to the Recorder.
const (
	EventLaunched  = "launched"
	EventConnected = "connected"
	EventClosed    = "closed"
)

// Manager is the single process-wide session coordinator. It creates and
// looks up proxies, routes incoming connections to the correct pending
// proxy, and removes proxies on disconnect.
//
// One Manager exists per process, created at process start and torn down
// with Shutdown at process exit. It is passed by reference to its
// collaborators (server, launcher call sites); there are no package-level
// globals. All registry and proxy-list mutation is serialized behind the
// Manager's lock.
type Manager struct {
	mu       sync.Mutex
	registry *Registry

	listener *bootstrap.Listener
	launcher Launcher
	recorder Recorder

	// scheme of correlation URLs handed to launchers.
	scheme string

	// token, when set, is appended to launch URLs as a query parameter
	// so the server edge can authenticate incoming connections.
	token string

	// defaultKind is the runtime launched for a fresh default proxy.
	defaultKind string

	// explicitPort, when non-zero, pins the listener port.
	explicitPort int
}

// NewManager creates the process-wide session manager. The launcher may
// be nil if no runtime kind other than notebook/export will ever be
// requested.
func NewManager(listener *bootstrap.Listener, launcher Launcher) *Manager {
	return &Manager{
		registry:    NewRegistry(),
		listener:    listener,
		launcher:    launcher,
		scheme:      "http",
		defaultKind: KindBrowser,
	}
}

// SetRecorder installs the session-event audit hook.
// Call before any proxies are created.
func (m *Manager) SetRecorder(r Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// SetConnectionToken makes launch URLs carry a ?token= query parameter.
func (m *Manager) SetConnectionToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// SetDefaultRuntime sets the runtime kind for fresh default proxies
// (notebook for embedded use, browser for interactive use).
func (m *Manager) SetDefaultRuntime(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultKind = kind
}

// SetExplicitPort pins the listener to a fixed port instead of derived
// candidates.
func (m *Manager) SetExplicitPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explicitPort = port
}

// RegisterApplication registers an application class under its stable
// name. Re-registration under the same name replaces the class but
// preserves that name's pending and connected proxies.
func (m *Manager) RegisterApplication(class ApplicationClass) error {
	if class == nil {
		return apperrors.InvalidState("nil application class")
	}
	name := class.AppName()
	if name == "" {
		return apperrors.InvalidState("application class has no name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.Register(name, class)
	log.Printf("session: registered application %q", name)
	return nil
}

// HasApp reports whether name is a registered application name.
func (m *Manager) HasApp(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.HasName(name)
}

// AppNames returns the registered application names in registration
// order.
func (m *Manager) AppNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Names()
}

// DefaultProxy returns the proxy used for interactive sessions under the
// default application name. If any default proxy exists, the most
// recently added one wins (connected preferred over pending only by
// recency of appending, matching observed behavior). Otherwise a fresh
// instance-less proxy is constructed, enqueued pending, and its
// configured default runtime is launched.
func (m *Manager) DefaultProxy() *Proxy {
	m.mu.Lock()

	ent, _ := m.registry.entry(DefaultAppName)
	if n := len(ent.connected); n > 0 {
		p := ent.connected[n-1]
		m.mu.Unlock()
		return p
	}
	if n := len(ent.pending); n > 0 {
		p := ent.pending[n-1]
		m.mu.Unlock()
		return p
	}

	p := newProxy(m, DefaultAppName)
	ent.pending = append(ent.pending, p)
	kind := m.defaultKind
	m.record(p, EventLaunched)
	m.mu.Unlock()

	if err := p.LaunchRuntime(kind, nil); err != nil {
		log.Printf("session: default runtime launch failed: %v", err)
	}
	return p
}

// AddPending registers an instance launch that is awaiting its remote
// connection. Fails with session.already_connected if the proxy was
// already delivered a channel, and session.invalid_state if it is
// already queued.
func (m *Manager) AddPending(p *Proxy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, err := m.registry.entry(p.AppName())
	if err != nil {
		return err
	}

	if p.Channel() != nil {
		return apperrors.AlreadyConnected(p.ID())
	}
	for _, cand := range ent.pending {
		if cand == p {
			return apperrors.InvalidState(
				fmt.Sprintf("proxy %s is already pending", p.ID()))
		}
	}

	ent.pending = append(ent.pending, p)
	m.record(p, EventLaunched)
	return nil
}

// Launch constructs a proxy for a registered application, instantiates
// the application object, launches the requested display runtime and
// enqueues the proxy pending. This is the programmatic "open an instance
// of this app" entry point.
//
// The export kind does not go through here; use ExportApp.
func (m *Manager) Launch(appName, kind string, opts map[string]string) (*Proxy, error) {
	if kind == KindExport {
		return nil, apperrors.InvalidState("use ExportApp for the export runtime")
	}

	class, err := m.classFor(appName)
	if err != nil {
		return nil, err
	}

	p := newProxy(m, appName)
	instance, err := class.New(p)
	if err != nil {
		return nil, err
	}
	p.SetInstance(instance)

	if err := p.LaunchRuntime(kind, opts); err != nil {
		return nil, err
	}
	if err := m.AddPending(p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// ExportApp instantiates an application against an in-process capture
// channel and returns it together with the capture. The application runs
// its full init sequence as if connected; the recorded command stream is
// the export artifact. The proxy is not entered into the registry lists.
func (m *Manager) ExportApp(appName string) (*Proxy, *channel.Capture, error) {
	class, err := m.classFor(appName)
	if err != nil {
		return nil, nil, err
	}

	p := newProxy(m, appName)
	instance, err := class.New(p)
	if err != nil {
		return nil, nil, err
	}
	p.SetInstance(instance)

	capture := channel.NewCapture()
	p.AttachChannel(capture)
	return p, capture, nil
}

func (m *Manager) classFor(appName string) (ApplicationClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, err := m.registry.entry(appName)
	if err != nil {
		return nil, err
	}
	if ent.class == nil {
		return nil, apperrors.InvalidState(
			fmt.Sprintf("application %q has no class to instantiate", appName))
	}
	return ent.class, nil
}

// ConnectIncoming routes an inbound connection to a proxy:
//
//  1. The application name must be registered (app.unknown otherwise).
//  2. The default name pops the most recently pending proxy, or
//     constructs a fresh instance-less one.
//  3. A non-default name without an instance id is an external
//     connection opening a fresh session: a new proxy is constructed and
//     the application object instantiated immediately.
//  4. A non-default name with an instance id must match a pending proxy;
//     session.dangling_instance_id is returned otherwise, without
//     mutating any registry list.
//
// The resolved proxy has the channel attached (flushing its command
// buffer in order), is appended to the connected list, and is returned.
func (m *Manager) ConnectIncoming(ch channel.Channel, appName, instanceID string) (*Proxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, err := m.registry.entry(appName)
	if err != nil {
		return nil, err
	}

	var p *Proxy
	switch {
	case appName == DefaultAppName:
		if n := len(ent.pending); n > 0 {
			p = ent.pending[n-1]
			ent.pending = ent.pending[:n-1]
		} else {
			p = newProxy(m, DefaultAppName)
		}

	case instanceID == "":
		// External connection with a runtime already on the other end:
		// open a fresh session for it.
		p = newProxy(m, appName)
		instance, err := ent.class.New(p)
		if err != nil {
			return nil, err
		}
		p.SetInstance(instance)

	default:
		for _, cand := range ent.pending {
			if cand.ID() == instanceID {
				p = cand
				break
			}
		}
		if p == nil {
			return nil, apperrors.DanglingInstanceID(appName, instanceID)
		}
		ent.removePending(p)
	}

	// Attaching requires PENDING; anything else is a violated lifecycle
	// contract and panics inside AttachChannel.
	p.AttachChannel(ch)
	ent.connected = append(ent.connected, p)
	m.record(p, EventConnected)

	log.Printf("session: connected %q (%s)", appName, p.ID())
	return p, nil
}

// Disconnect removes the proxy from its registry entry and closes it.
// Called when the owning channel signals closure, or to cancel a pending
// launch. Double disconnect is tolerated as a no-op; a late connection
// attempt for a cancelled pending proxy fails with
// session.dangling_instance_id rather than resurrecting it.
func (m *Manager) Disconnect(p *Proxy) {
	m.mu.Lock()
	if ent, err := m.registry.entry(p.AppName()); err == nil {
		removedConnected := ent.removeConnected(p)
		removedPending := ent.removePending(p)
		if removedConnected || removedPending {
			m.record(p, EventClosed)
		}
	}
	m.mu.Unlock()

	p.Close()
}

// ProxyByID looks a proxy up by application name and instance id,
// scanning pending then connected. Returns nil, false if absent.
func (m *Manager) ProxyByID(appName, id string) (*Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, err := m.registry.entry(appName)
	if err != nil {
		return nil, false
	}
	for _, p := range ent.pending {
		if p.ID() == id {
			return p, true
		}
	}
	for _, p := range ent.connected {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// ExpirePending removes and closes pending proxies older than maxAge
// across all applications, returning how many were expired. A later
// connection attempt for an expired proxy fails with
// session.dangling_instance_id. An application may remain pending
// indefinitely unless this sweep is scheduled.
func (m *Manager) ExpirePending(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var expired []*Proxy
	for _, name := range m.registry.names {
		ent := m.registry.entries[name]
		kept := ent.pending[:0]
		for _, p := range ent.pending {
			if p.CreatedAt().Before(cutoff) {
				expired = append(expired, p)
				m.record(p, EventClosed)
			} else {
				kept = append(kept, p)
			}
		}
		ent.pending = kept
	}
	m.mu.Unlock()

	for _, p := range expired {
		log.Printf("session: expiring pending proxy %s for %q", p.ID(), p.AppName())
		p.Close()
	}
	return len(expired)
}

// Shutdown closes every proxy and empties the registry lists. The
// Manager must not be used afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var all []*Proxy
	for _, name := range m.registry.names {
		ent := m.registry.entries[name]
		all = append(all, ent.pending...)
		all = append(all, ent.connected...)
		ent.pending = nil
		ent.connected = nil
	}
	m.mu.Unlock()

	for _, p := range all {
		p.Close()
	}
	log.Printf("session: manager shut down (%d proxies closed)", len(all))
}

// BaseURL ensures the listener is bound and returns the serving URL root
// (scheme://host:port/), with the connection token appended when one is
// configured.
func (m *Manager) BaseURL() (string, error) {
	m.mu.Lock()
	scheme, token, explicitPort := m.scheme, m.token, m.explicitPort
	m.mu.Unlock()

	if m.listener == nil {
		return "", apperrors.InvalidState("manager has no listener")
	}
	if _, err := m.listener.Ensure(explicitPort); err != nil {
		return "", err
	}

	base := fmt.Sprintf("%s://%s:%d/", scheme, m.listener.Host(), m.listener.Port())
	if token != "" {
		base += "?token=" + url.QueryEscape(token)
	}
	return base, nil
}

// launchURL computes the correlation URL for a proxy:
// scheme://host:port/<appName>[-<instanceId>]/. The id suffix is the
// sole mechanism correlating the inbound connection back to this proxy,
// and is omitted for the default name.
func (m *Manager) launchURL(p *Proxy) (string, error) {
	m.mu.Lock()
	scheme, token, explicitPort := m.scheme, m.token, m.explicitPort
	launcher := m.launcher
	m.mu.Unlock()

	if launcher == nil {
		return "", apperrors.InvalidState("manager has no runtime launcher")
	}
	if m.listener == nil {
		return "", apperrors.InvalidState("manager has no listener")
	}
	if _, err := m.listener.Ensure(explicitPort); err != nil {
		return "", err
	}

	name := p.AppName()
	if name != DefaultAppName {
		name += "-" + p.ID()
	}
	u := fmt.Sprintf("%s://%s:%d/%s/", scheme, m.listener.Host(), m.listener.Port(), name)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u, nil
}

// record forwards a lifecycle event to the audit recorder, if any.
// Must be called with m.mu held or during single-threaded setup.
func (m *Manager) record(p *Proxy, event string) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordEvent(p.ID(), p.AppName(), event, time.Now()); err != nil {
		log.Printf("session: failed to record %s for %s: %v", event, p.ID(), err)
	}
}
