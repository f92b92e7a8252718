package bootstrap

import (
	"fmt"
	"log"
	"net"
	"sync"

	apperrors "github.com/lumenui/host/internal/errors"
)

// maxCandidates is how many derived ports Ensure tries before giving up.
const maxCandidates = 100

// DefaultSeed is the seed prefix for derived candidate ports. Candidate i
// uses the seed "<prefix>+<i>".
const DefaultSeed = "lumen"

// Listener owns the process-wide TCP binding. It is created once at
// process start and never migrates; Ensure is idempotent so independent
// callers (launches racing with server startup) can all demand a binding
// and get the same one back.
type Listener struct {
	host string
	seed string

	mu   sync.Mutex
	ln   net.Listener
	port int
}

// NewListener creates an unbound listener for the given host.
// An empty seed uses DefaultSeed.
func NewListener(host, seed string) *Listener {
	if seed == "" {
		seed = DefaultSeed
	}
	return &Listener{host: host, seed: seed}
}

// Ensure binds the listener if it is not bound yet and returns the
// binding. A second call is a no-op returning the existing binding,
// regardless of arguments.
//
// If explicitPort is non-zero it is bound once and any OS bind error is
// propagated. Otherwise up to 100 candidate ports are derived from the
// seed ("<seed>+0" through "<seed>+99") and tried in order; if all are
// taken, a bootstrap.no_available_port error is returned.
func (l *Listener) Ensure(explicitPort int) (net.Listener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return l.ln, nil
	}

	if explicitPort != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", l.host, explicitPort))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeBootstrapBindFailed,
				fmt.Sprintf("failed to bind %s:%d", l.host, explicitPort), err)
		}
		l.ln = ln
		l.port = explicitPort
		log.Printf("bootstrap: listening on %s:%d", l.host, l.port)
		return l.ln, nil
	}

	for i := 0; i < maxCandidates; i++ {
		port := PortHash(fmt.Sprintf("%s+%d", l.seed, i))
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", l.host, port))
		if err != nil {
			// Address already in use; try the next candidate.
			continue
		}
		l.ln = ln
		l.port = port
		log.Printf("bootstrap: listening on %s:%d (candidate %d)", l.host, l.port, i)
		return l.ln, nil
	}

	return nil, apperrors.NoAvailablePort(maxCandidates)
}

// Bound reports whether the listener holds a binding.
func (l *Listener) Bound() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ln != nil
}

// Host returns the configured host.
func (l *Listener) Host() string {
	return l.host
}

// Port returns the bound port, or 0 if not bound yet.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Close releases the binding. Safe to call on an unbound listener.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	l.port = 0
	return err
}
