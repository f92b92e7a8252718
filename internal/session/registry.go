package session

import (
	"log"

	apperrors "github.com/lumenui/host/internal/errors"
)

// registryEntry holds one registered application name: its class and the
// ordered proxy lists. Pending proxies are awaiting their remote
// connection; connected proxies have a live channel.
type registryEntry struct {
	class     ApplicationClass
	pending   []*Proxy
	connected []*Proxy
}

// Registry maps application names to their class and proxy lists. Names
// keep registration order. The registry performs no locking of its own;
// the Manager serializes all access.
type Registry struct {
	names   []string
	entries map[string]*registryEntry
}

// NewRegistry creates a registry with the default application name
// preregistered (class-less, for interactive sessions).
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[string]*registryEntry),
	}
	r.names = append(r.names, DefaultAppName)
	r.entries[DefaultAppName] = &registryEntry{}
	return r
}

// Register inserts or replaces the class for a name. Re-registration
// replaces the class but preserves the existing pending and connected
// lists, with a warning; this tolerates interactive redefinition. Never
// errors.
func (r *Registry) Register(name string, class ApplicationClass) {
	if ent, ok := r.entries[name]; ok {
		if ent.class != class {
			log.Printf("session: re-registering application %q", name)
		}
		ent.class = class
		return
	}
	r.names = append(r.names, name)
	r.entries[name] = &registryEntry{class: class}
}

// HasName reports whether name is registered.
func (r *Registry) HasName(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered application names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Lookup returns the class and copies of the proxy lists for a name.
// Fails with app.unknown if the name is absent.
func (r *Registry) Lookup(name string) (ApplicationClass, []*Proxy, []*Proxy, error) {
	ent, ok := r.entries[name]
	if !ok {
		return nil, nil, nil, apperrors.UnknownApplication(name)
	}
	pending := make([]*Proxy, len(ent.pending))
	copy(pending, ent.pending)
	connected := make([]*Proxy, len(ent.connected))
	copy(connected, ent.connected)
	return ent.class, pending, connected, nil
}

// entry returns the mutable entry for a name.
func (r *Registry) entry(name string) (*registryEntry, error) {
	ent, ok := r.entries[name]
	if !ok {
		return nil, apperrors.UnknownApplication(name)
	}
	return ent, nil
}

// removePending removes a proxy from an entry's pending list.
// Returns false if the proxy is not in the list.
func (e *registryEntry) removePending(p *Proxy) bool {
	for i, cand := range e.pending {
		if cand == p {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return true
		}
	}
	return false
}

// removeConnected removes a proxy from an entry's connected list.
// Returns false if the proxy is not in the list.
func (e *registryEntry) removeConnected(p *Proxy) bool {
	for i, cand := range e.connected {
		if cand == p {
			e.connected = append(e.connected[:i], e.connected[i+1:]...)
			return true
		}
	}
	return false
}
