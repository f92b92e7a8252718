// Package mdns provides optional mDNS/Bonjour advertisement of a lumen
// host on the local network, so display clients can discover it without
// typing an address. Opt-in: discovery reveals presence only, the
// connection token is still required when authentication is enabled.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type for lumen hosts.
const ServiceType = "_lumen._tcp"

// ProtocolVersion identifies the advertised command protocol version.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the bound listener port to advertise.
	Port int

	// Name is a human-readable name for this host. Defaults to the
	// system hostname.
	Name string

	// Apps are the registered application names, included in TXT
	// records so clients can show what the host serves.
	Apps []string
}

// Advertiser manages the DNS-SD registration for one host.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start begins advertising. Safe to call repeatedly; a running
// advertiser is left alone.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "lumen"
		} else {
			name = hostname
		}
	}

	txtRecords := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
	}
	if len(a.config.Apps) > 0 {
		txtRecords = append(txtRecords, "apps="+strings.Join(a.config.Apps, ","))
	}

	server, err := zeroconf.Register(
		name,
		ServiceType,
		"local.",
		a.config.Port,
		txtRecords,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. Safe to call repeatedly or without a
// prior Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the advertisement is active.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost is one lumen host found on the local network.
type DiscoveredHost struct {
	Name    string
	Host    string
	Port    int
	Version string
	Apps    []string
}

// Discover browses the local network for lumen hosts until the context
// expires.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := DiscoveredHost{
				Name: entry.Instance,
				Port: entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				host.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				host.Host = entry.AddrIPv6[0].String()
			}
			for _, txt := range entry.Text {
				switch {
				case strings.HasPrefix(txt, "version="):
					host.Version = strings.TrimPrefix(txt, "version=")
				case strings.HasPrefix(txt, "name="):
					host.Name = strings.TrimPrefix(txt, "name=")
				case strings.HasPrefix(txt, "apps="):
					host.Apps = strings.Split(strings.TrimPrefix(txt, "apps="), ",")
				}
			}
			mu.Lock()
			hosts = append(hosts, host)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes the entries channel once the context is done.
	wg.Wait()

	return hosts, nil
}
