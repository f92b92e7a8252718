package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/lumenui/host/internal/session"
)

// runExport implements "lumen export": instantiate an application
// against an in-process capture channel and write the recorded command
// stream, one command per line. The output is everything a display
// runtime would have received, usable for offline rendering or
// debugging.
func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)

	appName := fs.String("app", demoAppName, "Application to export")
	outPath := fs.String("o", "", "Output file (default: stdout)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: lumen export [options]

Run an application against a capture channel instead of a live display
runtime and write the resulting command stream.

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

	manager := session.NewManager(nil, nil)
	if err := manager.RegisterApplication(&demoClass{}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	proxy, capture, err := manager.ExportApp(*appName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer proxy.Close()

	out := stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	commands := capture.Commands()
	for _, cmd := range commands {
		fmt.Fprintln(out, cmd)
	}
	if *outPath != "" {
		fmt.Fprintf(stdout, "Exported %d commands for %s to %s\n",
			len(commands), *appName, *outPath)
	}
	return 0
}
