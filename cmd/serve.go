package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/lumenui/host/internal/auth"
	"github.com/lumenui/host/internal/bootstrap"
	"github.com/lumenui/host/internal/config"
	"github.com/lumenui/host/internal/launch"
	"github.com/lumenui/host/internal/mdns"
	"github.com/lumenui/host/internal/server"
	"github.com/lumenui/host/internal/session"
	"github.com/lumenui/host/internal/storage"
)

// runServe implements "lumen serve": bind the listener, register the
// built-in demo application, and serve sessions until interrupted.
func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.lumen/config.toml)")
	host := fs.String("host", "", "Hostname embedded in session URLs (default: localhost)")
	port := fs.Int("port", 0, "Fixed listener port (default: derived from port seed)")
	runtimeKind := fs.String("runtime", "", "Default display runtime: browser, node, notebook")
	requireAuth := fs.Bool("require-auth", false, "Require the connection token on every request")
	mdnsEnabled := fs.Bool("mdns", false, "Advertise the host via mDNS on the local network")
	qr := fs.Bool("qr", false, "Print the serving URL as a QR code")
	dbPath := fs.String("db", "", "SQLite path for the session-event log ('off' disables)")
	open := fs.Bool("open", false, "Open the default session in the display runtime at startup")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: lumen serve [options]

Start the host. The listener binds a stable port derived from the port
seed unless --port pins one, so clients can find the host again across
restarts without configuration.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// CLI flags override file values.
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *runtimeKind != "" {
		cfg.Runtime = *runtimeKind
	}
	if *requireAuth {
		cfg.RequireAuth = true
	}
	if *mdnsEnabled {
		cfg.MdnsEnabled = true
	}
	if *qr {
		cfg.QR = true
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	listener := bootstrap.NewListener(cfg.Host, cfg.PortSeed)
	manager := session.NewManager(listener, launch.New())
	manager.SetDefaultRuntime(cfg.Runtime)
	manager.SetExplicitPort(cfg.Port)

	if err := manager.RegisterApplication(&demoClass{}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Session-event log.
	if cfg.DBPath != "off" {
		path := cfg.DBPath
		if path == "" {
			path, err = config.DefaultDBPath()
			if err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", err)
				return 1
			}
		}
		store, err := storage.Open(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer store.Close()
		manager.SetRecorder(store)
	}

	srv := server.NewServer(manager, listener)
	srv.SetExplicitPort(cfg.Port)

	// Connection token: generated per process, embedded in launch URLs.
	if cfg.RequireAuth {
		token, err := auth.NewToken()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		guard, err := auth.NewGuard(token)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		srv.SetGuard(guard)
		manager.SetConnectionToken(token)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	// The server binds the listener; wait for the binding so the URL is
	// known.
	for !listener.Bound() {
		select {
		case err := <-serveErr:
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		case <-time.After(10 * time.Millisecond):
		}
	}

	baseURL, err := manager.BaseURL()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "  lumen host")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintf(stdout, "  Serving:  %s\n", baseURL)
	fmt.Fprintf(stdout, "  Apps:     %v\n", manager.AppNames())
	if cfg.RequireAuth {
		fmt.Fprintln(stdout, "  Auth:     Required (token embedded in URL)")
	}
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "")

	if cfg.QR {
		printQR(stdout, baseURL)
	}

	var advertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		advertiser = mdns.NewAdvertiser(mdns.Config{
			Port: listener.Port(),
			Apps: manager.AppNames(),
		})
		if err := advertiser.Start(); err != nil {
			log.Printf("serve: mdns advertisement failed: %v", err)
		} else {
			defer advertiser.Stop()
		}
	}

	// Sweep pending sessions whose runtime never connected.
	if cfg.PendingExpirySecs > 0 {
		maxAge := time.Duration(cfg.PendingExpirySecs) * time.Second
		ticker := time.NewTicker(maxAge / 2)
		defer ticker.Stop()
		go func() {
			for range ticker.C {
				if n := manager.ExpirePending(maxAge); n > 0 {
					log.Printf("serve: expired %d pending sessions", n)
				}
			}
		}()
	}

	if *open {
		if _, err := manager.Launch(demoAppName, cfg.Runtime, nil); err != nil {
			log.Printf("serve: failed to open demo session: %v", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	case s := <-sig:
		fmt.Fprintf(stdout, "Received %s, shutting down\n", s)
	}

	manager.Shutdown()
	srv.Stop()
	listener.Close()
	return 0
}

// printQR renders the serving URL as a terminal QR code, with a plain
// line as fallback.
func printQR(w io.Writer, url string) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "QR generation failed: %v\n", err)
		return
	}
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintf(w, "  %s\n\n", url)
}
