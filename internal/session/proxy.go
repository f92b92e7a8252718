package session

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenui/host/internal/channel"
	"github.com/lumenui/host/internal/command"
	apperrors "github.com/lumenui/host/internal/errors"
)

// Status is the derived lifecycle state of a proxy. It is always computed
// from channel state, never stored.
type Status int

const (
	// StatusPending means no channel has been attached yet.
	StatusPending Status = iota

	// StatusConnected means the channel is attached and open.
	StatusConnected

	// StatusClosed means the channel is attached but has closed.
	// Closed is terminal; there is no transition out of it.
	StatusClosed
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Proxy is the session object mediating between one application instance
// and one remote channel. It owns the instance, the outbound channel and
// the command buffer filled while the connection is pending.
//
// The channel and the instance are each set at most once. Attaching the
// channel is the only legal mutation of connection state and defines
// CONNECTED status; closure is observed lazily through the channel's
// close code.
type Proxy struct {
	appName   string
	id        string
	m         *Manager
	createdAt time.Time

	mu sync.Mutex

	// ch is nil while pending. Set exactly once by AttachChannel.
	ch channel.Channel

	// instance is the owned application object. instanceSet stays true
	// after Close clears the reference, preserving the set-once rule.
	instance    any
	instanceSet bool

	// buffer accumulates outbound commands until the channel attaches,
	// then becomes permanently inert.
	buffer command.Buffer

	// known tracks remote class names already defined on the runtime.
	known map[string]struct{}

	// runtime is the handle to a launched external display process,
	// if any.
	runtime RuntimeHandle
}

func newProxy(m *Manager, appName string) *Proxy {
	return &Proxy{
		appName:   appName,
		id:        uuid.New().String(),
		m:         m,
		createdAt: time.Now(),
		known:     make(map[string]struct{}),
	}
}

// ID returns the process-unique correlation identifier. It is used purely
// for correlating an inbound connection to this proxy, never for
// ownership.
func (p *Proxy) ID() string {
	return p.id
}

// AppName returns the application name this proxy represents.
func (p *Proxy) AppName() string {
	return p.appName
}

// CreatedAt returns when the proxy was constructed.
func (p *Proxy) CreatedAt() time.Time {
	return p.createdAt
}

// Status computes the lifecycle state from channel state.
func (p *Proxy) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Proxy) statusLocked() Status {
	if p.ch == nil {
		return StatusPending
	}
	if p.ch.CloseCode() == nil {
		return StatusConnected
	}
	return StatusClosed
}

// String implements fmt.Stringer for log lines.
func (p *Proxy) String() string {
	return fmt.Sprintf("<proxy %s for %q (%s)>", p.id, p.appName, p.Status())
}

// Instance returns the owned application object, or nil if none was set
// or the proxy has been closed.
func (p *Proxy) Instance() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instance
}

// SetInstance binds the owned application object. The field is set at
// most once; setting it twice is a fatal caller error.
func (p *Proxy) SetInstance(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instanceSet {
		panic(apperrors.InvalidState(fmt.Sprintf("proxy %s: instance set twice", p.id)))
	}
	p.instance = v
	p.instanceSet = true
}

// Channel returns the attached channel, or nil while pending.
func (p *Proxy) Channel() channel.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch
}

// AttachChannel attaches the channel and flushes the command buffer over
// it in FIFO order. The proxy must be PENDING: attaching to a connected
// or closed proxy, or attaching twice, violates the lifecycle contract
// and panics with a session.invalid_state error.
func (p *Proxy) AttachChannel(ch channel.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st := p.statusLocked(); st != StatusPending {
		panic(apperrors.InvalidState(
			fmt.Sprintf("proxy %s: attach channel while %s", p.id, st)))
	}

	p.ch = ch

	// Flush buffered commands in issue order. After this the buffer is
	// inert and future sends go directly to the channel.
	for _, cmd := range p.buffer.Drain() {
		if err := ch.Send(cmd); err != nil {
			log.Printf("session: proxy %s: buffer flush aborted: %v", p.id, err)
			return
		}
	}
}

// SendCommand delivers one command line to the display runtime.
// CONNECTED writes immediately, PENDING buffers, CLOSED fails with
// channel.closed. Commands to a given proxy reach its eventual channel in
// the exact order issued.
func (p *Proxy) SendCommand(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLocked(text)
}

func (p *Proxy) sendLocked(text string) error {
	switch p.statusLocked() {
	case StatusConnected:
		return p.ch.Send(text)
	case StatusPending:
		p.buffer.Append(text)
		return nil
	default:
		return apperrors.ChannelClosed(p.id)
	}
}

// RegisterRemoteClass ensures the class and its whole base chain are
// defined on the display runtime, least-derived first. Idempotent: a
// class already known to this proxy emits nothing. The ancestor-before-
// derived order holds even under concurrent first-time registration,
// because the entire chain is emitted under the proxy lock.
func (p *Proxy) RegisterRemoteClass(rc RemoteClass) error {
	if rc == nil {
		return apperrors.InvalidState("nil remote class descriptor")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registerRemoteLocked(rc)
}

func (p *Proxy) registerRemoteLocked(rc RemoteClass) error {
	name := rc.RemoteClassName()
	if _, ok := p.known[name]; ok {
		return nil
	}

	// Bases first, walking up to the root marker capability.
	if base := rc.Base(); base != nil {
		if err := p.registerRemoteLocked(base); err != nil {
			return err
		}
	}

	if err := p.sendLocked(command.DefineJS(rc.ScriptCode())); err != nil {
		return err
	}
	if css := rc.StyleCode(); strings.TrimSpace(css) != "" {
		if err := p.sendLocked(command.DefineCSS(css)); err != nil {
			return err
		}
	}

	p.known[name] = struct{}{}
	return nil
}

// Exec sends an EXEC command: execute code on the runtime without a
// result. Buffered like any other command while pending.
func (p *Proxy) Exec(code string) error {
	return p.SendCommand(command.Exec(code))
}

// EvaluateExpression sends an EVAL command. It is a CONNECTED-only
// convenience intended for development and debugging; it fails with
// session.not_connected before any connection exists.
func (p *Proxy) EvaluateExpression(code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return apperrors.NotConnected(p.id)
	}
	return p.sendLocked(command.Eval(code))
}

// LaunchRuntime starts the external display runtime for this proxy.
//
// The export kind attaches an in-process capture channel recording all
// commands. The notebook kind launches nothing; the embedding environment
// opens the default connection itself. Any other kind ensures the
// process-wide listener is bound, computes the correlation URL embedding
// host, port, application name and (for non-default apps) this proxy's
// id, and hands the URL to the launcher. No channel is attached by a
// launch; it only schedules an eventual incoming connection.
func (p *Proxy) LaunchRuntime(kind string, opts map[string]string) error {
	switch kind {
	case KindExport:
		p.AttachChannel(channel.NewCapture())
		return nil
	case KindNotebook, "":
		return nil
	}

	url, err := p.m.launchURL(p)
	if err != nil {
		return err
	}

	handle, err := p.m.launcher.Launch(url, kind, opts)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.runtime = handle
	p.mu.Unlock()

	log.Printf("session: launched %s runtime for %q (%s)", kind, p.appName, p.id)
	return nil
}

// HandleEvent forwards an inbound event line to the application instance
// if it cares about events. The server edge wires this as the channel's
// event handler once the connection is resolved.
func (p *Proxy) HandleEvent(text string) {
	if h, ok := p.Instance().(EventHandler); ok {
		h.HandleEvent(text)
	}
}

// Close requests termination of any launched runtime process, closes the
// channel if one is attached, and clears the instance reference to break
// any cycle with the application object. Idempotent.
func (p *Proxy) Close() error {
	p.mu.Lock()
	runtime := p.runtime
	p.runtime = nil
	ch := p.ch
	p.instance = nil
	p.mu.Unlock()

	var err error
	if runtime != nil {
		err = runtime.Close()
	}
	if ch != nil {
		ch.Close()
	}
	return err
}
