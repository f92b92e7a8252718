package launch

import (
	"bufio"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	apperrors "github.com/lumenui/host/internal/errors"
	"github.com/lumenui/host/internal/session"
)

// nodeBootstrap is the script handed to node with -e. It connects a
// websocket back to the session endpoint derived from the correlation
// URL, evaluates each received command line, and mirrors console output
// as event lines. Requires node's built-in WebSocket (node 21+).
const nodeBootstrap = `
const url = process.argv[1].replace(/^http/, "ws").replace(/\/(\?|$)/, "/ws$1");
const ws = new WebSocket(url);
ws.onmessage = (m) => {
	const text = m.data;
	const sep = text.indexOf(" ");
	const verb = sep < 0 ? text : text.slice(0, sep);
	const payload = sep < 0 ? "" : text.slice(sep + 1);
	switch (verb) {
	case "DEFINE-JS":
	case "EXEC":
	case "EVAL":
		try { (0, eval)(payload); } catch (e) { ws.send("error " + e.message); }
		break;
	case "DEFINE-CSS":
		break; // no styling surface in a node runtime
	default:
		ws.send("error unknown command " + verb);
	}
};
ws.onclose = () => process.exit(0);
`

// launchNode runs a node interpreter connected back to the session. The
// process runs under a pseudo-terminal so its output keeps interactive
// formatting, and every output line is streamed to the host log.
func (l *Launcher) launchNode(url string) (session.RuntimeHandle, error) {
	node := l.NodeCommand
	if node == "" {
		node = "node"
	}
	if _, err := exec.LookPath(node); err != nil {
		return nil, apperrors.SpawnFailed(session.KindNode, err)
	}

	handle, err := spawnPTY(node, "-e", nodeBootstrap, url)
	if err != nil {
		return nil, apperrors.SpawnFailed(session.KindNode, err)
	}
	log.Printf("launch: started node runtime for %s", url)
	return handle, nil
}

// ptyHandle is a child process running under a pseudo-terminal. A
// background goroutine drains its output into the log until the process
// exits.
type ptyHandle struct {
	cmd *exec.Cmd

	mu   sync.Mutex
	ptmx *os.File

	done chan struct{}
}

// spawnPTY starts command under a fresh pseudo-terminal and begins
// streaming its output lines to the log.
func spawnPTY(command string, args ...string) (*ptyHandle, error) {
	cmd := exec.Command(command, args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	h := &ptyHandle{
		cmd:  cmd,
		ptmx: ptmx,
		done: make(chan struct{}),
	}
	go h.stream(command)
	return h, nil
}

// stream copies output lines to the log until the pty closes, then reaps
// the process.
func (h *ptyHandle) stream(name string) {
	defer close(h.done)

	h.mu.Lock()
	ptmx := h.ptmx
	h.mu.Unlock()
	if ptmx == nil {
		return
	}

	scanner := bufio.NewScanner(ptmx)
	for scanner.Scan() {
		log.Printf("launch: %s: %s", name, scanner.Text())
	}

	if h.cmd.Process != nil {
		h.cmd.Wait()
	}
}

// Done returns a channel closed once the process has exited and its
// output is fully drained.
func (h *ptyHandle) Done() <-chan struct{} {
	return h.done
}

// Close kills the process and closes its pseudo-terminal. Idempotent.
func (h *ptyHandle) Close() error {
	h.mu.Lock()
	ptmx := h.ptmx
	h.ptmx = nil
	h.mu.Unlock()

	if ptmx != nil {
		ptmx.Close()
	}
	if h.cmd.Process != nil {
		h.cmd.Process.Kill()
	}
	return nil
}
