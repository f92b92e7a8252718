// Package command defines the wire commands sent to a display runtime and
// the FIFO buffer a proxy accumulates while its connection is pending.
//
// Commands are plain text lines: a fixed verb, one space, then an opaque
// payload. The host only sequences and buffers commands; it never parses
// payloads. The display runtime interprets them.
package command

// Command verbs understood by the display runtime.
// The payload after the verb is opaque to the host.
const (
	// VerbDefineJS defines a remote class's script body on the runtime.
	VerbDefineJS = "DEFINE-JS"

	// VerbDefineCSS defines a remote class's style body on the runtime.
	VerbDefineCSS = "DEFINE-CSS"

	// VerbExec executes code on the runtime without returning a result.
	VerbExec = "EXEC"

	// VerbEval evaluates code on the runtime. Intended for development
	// and debugging; deployable code should avoid it.
	VerbEval = "EVAL"
)

// DefineJS builds a DEFINE-JS command carrying a class's script body.
func DefineJS(code string) string {
	return VerbDefineJS + " " + code
}

// DefineCSS builds a DEFINE-CSS command carrying a class's style body.
func DefineCSS(code string) string {
	return VerbDefineCSS + " " + code
}

// Exec builds an EXEC command.
func Exec(code string) string {
	return VerbExec + " " + code
}

// Eval builds an EVAL command.
func Eval(code string) string {
	return VerbEval + " " + code
}

// Buffer is an ordered queue of outbound commands awaiting a live
// connection. It only grows while the owning proxy is pending; once the
// connection arrives the buffer is drained exactly once, in FIFO order,
// and becomes permanently inert.
//
// Buffer is not safe for concurrent use on its own; the owning proxy
// serializes access.
type Buffer struct {
	commands []string
	drained  bool
}

// Append adds a command to the end of the queue.
// Appending after Drain indicates a lifecycle bug in the caller: once
// drained, commands must go directly to the channel.
func (b *Buffer) Append(cmd string) {
	if b.drained {
		panic("command: append to a drained buffer")
	}
	b.commands = append(b.commands, cmd)
}

// Len returns the number of buffered commands.
func (b *Buffer) Len() int {
	return len(b.commands)
}

// Drained reports whether the buffer has been flushed.
func (b *Buffer) Drained() bool {
	return b.drained
}

// Drain returns all buffered commands in FIFO order and marks the buffer
// inert. It may be called only once.
func (b *Buffer) Drain() []string {
	if b.drained {
		panic("command: buffer drained twice")
	}
	b.drained = true
	out := b.commands
	b.commands = nil
	return out
}
