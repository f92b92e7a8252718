// Package session maps registered application definitions to runtime
// instances, each instance paired with exactly one bidirectional connection
// to a remote display runtime.
//
// The package owns the proxy lifecycle state machine: an application
// instance moves through PENDING (launched but not yet connected),
// CONNECTED (live channel) and CLOSED, while commands issued before the
// connection exists are buffered and flushed in order once it arrives.
// Incoming connections are reconciled to the correct pending instance via
// an identifier embedded in the connection URL.
package session

// DefaultAppName is the implicit application name used for interactive
// sessions that are not bound to a registered application class.
const DefaultAppName = "__default__"

// Runtime kinds understood by LaunchRuntime.
const (
	// KindBrowser launches the system browser at the correlation URL.
	KindBrowser = "browser"

	// KindNode runs a node process pointed at the correlation URL.
	KindNode = "node"

	// KindNotebook launches nothing; an embedding notebook environment
	// is expected to open the default connection itself.
	KindNotebook = "notebook"

	// KindExport attaches an in-process capture channel that records
	// commands instead of launching an external process.
	KindExport = "export"
)

// ApplicationClass is the opaque handle registered for an application
// name. One application instance is created per connection.
type ApplicationClass interface {
	// AppName returns the stable name the class is registered under.
	AppName() string

	// New instantiates the application object for a proxy. The instance
	// must not keep a strong back-reference to the proxy beyond what it
	// needs; the proxy owns the instance, not the other way around.
	New(p *Proxy) (any, error)
}

// RemoteClass describes a capability class that must be defined on the
// display runtime before instances of it can be used. Base returns the
// parent descriptor, or nil for the root marker capability.
type RemoteClass interface {
	// RemoteClassName identifies the class; proxies use it to track
	// which classes the remote side already knows.
	RemoteClassName() string

	// Base returns the parent class descriptor, or nil at the root.
	Base() RemoteClass

	// ScriptCode returns the generated script body for the class.
	ScriptCode() string

	// StyleCode returns the generated style body. A blank body emits no
	// DEFINE-CSS command.
	StyleCode() string
}

// EventHandler is implemented by application instances that want inbound
// event lines from their display runtime. The payloads are opaque text.
type EventHandler interface {
	HandleEvent(text string)
}

// RuntimeHandle is the host's grip on a launched external display
// process. Closing it requests the process's termination.
type RuntimeHandle interface {
	Close() error
}

// Launcher starts an external display runtime pointed at a correlation
// URL. Implementations live outside this package; the session core only
// schedules an eventual incoming connection.
type Launcher interface {
	Launch(url, kind string, opts map[string]string) (RuntimeHandle, error)
}
