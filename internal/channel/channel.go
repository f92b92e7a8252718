// Package channel provides the bidirectional transport abstraction a proxy
// sends commands over.
//
// The host never receives a push notification when a connection dies.
// Instead, a channel records its close code and the proxy polls CloseCode
// to derive its status. A nil close code means the channel is open.
package channel

// Channel is the transport contract between a proxy and its display
// runtime. Implementations must be safe for concurrent use.
type Channel interface {
	// Send writes one command line to the remote runtime.
	Send(text string) error

	// CloseCode returns nil while the channel is open, and the close
	// code once it has closed. Closure is observed by polling, not
	// pushed to the proxy.
	CloseCode() *int

	// Close shuts the channel down. It is idempotent.
	Close() error
}

// EventHandler receives inbound event lines from the display runtime.
// The host treats event payloads as opaque text, same as outbound
// commands.
type EventHandler func(text string)
