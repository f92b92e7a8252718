package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunExport_WritesCommandStream(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := runExport([]string{"--app", demoAppName}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	// The demo app defines its base class, the widget, the widget's
	// style, and executes the constructor.
	if len(lines) != 4 {
		t.Fatalf("exported %d commands, want 4:\n%s", len(lines), stdout.String())
	}
	wantPrefixes := []string{"DEFINE-JS ", "DEFINE-JS ", "DEFINE-CSS ", "EXEC "}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("command[%d] = %q, want prefix %q", i, lines[i], prefix)
		}
	}
	if !strings.Contains(lines[0], "DemoComponent") {
		t.Errorf("first DEFINE-JS should be the base class, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "DemoWidget") {
		t.Errorf("second DEFINE-JS should be the widget, got %q", lines[1])
	}
}

func TestRunExport_ToFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "demo.cmds")

	code := runExport([]string{"-o", path}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "DEFINE-JS ") {
		t.Error("output file should contain the command stream")
	}
	if !strings.Contains(stdout.String(), "Exported") {
		t.Error("stdout should report the export summary")
	}
}

func TestRunExport_UnknownApp(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := runExport([]string{"--app", "Ghost"}, &stdout, &stderr)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Ghost") {
		t.Errorf("stderr = %q, want unknown app error", stderr.String())
	}
}
