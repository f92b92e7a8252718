// Package launch starts external display runtimes and hands them the
// correlation URL of the session they should connect back to.
package launch

import (
	"log"
	"os/exec"
	"runtime"

	apperrors "github.com/lumenui/host/internal/errors"
	"github.com/lumenui/host/internal/session"
)

// Launcher starts display runtimes. The zero value uses the platform
// defaults; the command fields exist so tests and unusual setups can
// substitute their own executables.
type Launcher struct {
	// BrowserCommand, when non-empty, replaces the platform URL opener.
	// The correlation URL is appended as the final argument.
	BrowserCommand []string

	// NodeCommand, when non-empty, replaces the node executable used for
	// the node runtime kind.
	NodeCommand string
}

// New returns a launcher using the platform defaults.
func New() *Launcher {
	return &Launcher{}
}

// Launch starts the requested runtime kind pointed at url and returns a
// handle for terminating it. Browser runtimes are opened through the
// platform URL opener and run detached; node runtimes run as a child
// process under a pseudo-terminal with their output streamed to the log.
func (l *Launcher) Launch(url, kind string, opts map[string]string) (session.RuntimeHandle, error) {
	switch kind {
	case session.KindBrowser:
		return l.launchBrowser(url, opts)
	case session.KindNode:
		return l.launchNode(url)
	default:
		return nil, apperrors.UnknownRuntime(kind)
	}
}

func (l *Launcher) launchBrowser(url string, opts map[string]string) (session.RuntimeHandle, error) {
	argv := l.BrowserCommand
	if len(argv) == 0 {
		if exe := opts["exe"]; exe != "" {
			argv = []string{exe}
		} else {
			argv = platformOpener()
		}
	}

	cmd := exec.Command(argv[0], append(argv[1:], url)...)
	if err := cmd.Start(); err != nil {
		return nil, apperrors.SpawnFailed(session.KindBrowser, err)
	}

	// The opener usually exits immediately after delegating to the real
	// browser process; reap it so it does not linger as a zombie.
	go cmd.Wait()

	log.Printf("launch: opened browser at %s", url)
	return &browserHandle{cmd: cmd}, nil
}

// platformOpener returns the OS command that opens a URL in the default
// browser.
func platformOpener() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}
	default:
		return []string{"xdg-open"}
	}
}

// browserHandle wraps the short-lived opener process. Closing it kills
// the opener if it is somehow still running; the browser itself is out of
// our control once opened.
type browserHandle struct {
	cmd *exec.Cmd
}

func (h *browserHandle) Close() error {
	if h.cmd.Process != nil {
		// Ignore the error: the opener has normally exited long ago.
		h.cmd.Process.Kill()
	}
	return nil
}
