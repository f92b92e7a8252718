package channel

import (
	"sync"

	apperrors "github.com/lumenui/host/internal/errors"
)

// Capture is an in-process Channel that records every command instead of
// sending it anywhere. It backs the export runtime kind: a proxy with a
// capture channel is CONNECTED from the host's point of view, so an
// application can run its full init sequence and the resulting command
// stream can be turned into a standalone document by the caller.
type Capture struct {
	mu        sync.Mutex
	commands  []string
	closeCode *int
}

// NewCapture creates an open capture channel.
func NewCapture() *Capture {
	return &Capture{}
}

// Send records the command.
func (c *Capture) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode != nil {
		return apperrors.New(apperrors.CodeChannelClosed, "capture channel closed")
	}
	c.commands = append(c.commands, text)
	return nil
}

// CloseCode returns nil until Close is called.
func (c *Capture) CloseCode() *int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// Close marks the channel closed. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode == nil {
		code := 1000
		c.closeCode = &code
	}
	return nil
}

// Commands returns a copy of the recorded command stream in send order.
func (c *Capture) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.commands))
	copy(out, c.commands)
	return out
}
