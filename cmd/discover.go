package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lumenui/host/internal/mdns"
)

// runDiscover implements "lumen discover": browse the local network for
// advertised hosts and print what they serve.
func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeout := fs.Duration("timeout", 3*time.Second, "How long to browse for hosts")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: lumen discover [options]

Browse the local network for lumen hosts advertised via mDNS.

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Fprintf(stdout, "Browsing for hosts (%s)...\n", *timeout)
	hosts, err := mdns.Discover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(hosts) == 0 {
		fmt.Fprintln(stdout, "No hosts found.")
		return 0
	}

	for _, h := range hosts {
		fmt.Fprintf(stdout, "  %s  http://%s:%d/", h.Name, h.Host, h.Port)
		if len(h.Apps) > 0 {
			fmt.Fprintf(stdout, "  (%s)", strings.Join(h.Apps, ", "))
		}
		fmt.Fprintln(stdout, "")
	}
	return 0
}
