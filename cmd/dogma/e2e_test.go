package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/line/centraldogma-sub005/internal/content"
	"github.com/line/centraldogma-sub005/internal/httpapi"
	"github.com/line/centraldogma-sub005/internal/metadata"
	"github.com/line/centraldogma-sub005/internal/serverstatus"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/storage/memory"
	"github.com/line/centraldogma-sub005/internal/watch"
)

// newCLITestServer assembles the same wiring newTestServer in
// internal/httpapi's own test file does, in-process, so the CLI's HTTP
// client exercises a real handler rather than a mock.
func newCLITestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memory.New()
	bootstrap := storage.New(st, nil, nil)
	wm := watch.New(bootstrap)
	status := serverstatus.New()
	eng := storage.New(st, status, wm)
	status.RegisterShutdownHook(wm)

	md := metadata.New(eng)
	if err := md.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap metadata: %v", err)
	}

	svc := content.New(eng, wm)
	svc.DefaultTimeout = 3 * time.Second
	handler := &httpapi.Server{Content: svc, Metadata: md, Status: status}
	srv := httptest.NewServer(handler.NewMux())
	t.Cleanup(srv.Close)
	return srv
}

// runCLI invokes rootCmd in-process with args, capturing stdout around
// the direct function call, and returns whatever RunE itself returned
// instead of going through Execute's os.Exit.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	rootCmd.SetArgs(args)
	runErr := rootCmd.Execute()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String(), runErr
}

// TestCLIEndToEnd drives the project/repo/push/cat/merge/status
// surface through the cobra command tree against a real in-process
// server, exercising the same end-to-end scenarios a raw HTTP client
// test would, but through the CLI.
func TestCLIEndToEnd(t *testing.T) {
	srv := newCLITestServer(t)
	serverFlag := []string{"--server", srv.URL}

	withServer := func(args ...string) []string {
		return append(append([]string{}, serverFlag...), args...)
	}

	if _, err := runCLI(t, withServer("project", "create", "perf")...); err != nil {
		t.Fatalf("project create: %v", err)
	}
	if _, err := runCLI(t, withServer("repo", "create", "perf", "main")...); err != nil {
		t.Fatalf("repo create: %v", err)
	}

	out, err := runCLI(t, withServer("repo", "list", "perf")...)
	if err != nil {
		t.Fatalf("repo list: %v", err)
	}
	if !strings.Contains(out, "main") {
		t.Fatalf("repo list = %q, want to contain %q", out, "main")
	}

	if _, err := runCLI(t, withServer(
		"push", "perf/main", "/a.json",
		"--type", "JSON",
		"--file", writeTempJSON(t, `{"x":1}`),
		"--summary", "seed a.json",
	)...); err != nil {
		t.Fatalf("push: %v", err)
	}

	out, err = runCLI(t, withServer("cat", "perf/main", "/a.json")...)
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if !strings.Contains(out, `"x":1`) && !strings.Contains(out, `"x": 1`) {
		t.Fatalf("cat output = %q, want to contain the pushed JSON", out)
	}

	if _, err := runCLI(t, withServer(
		"push", "perf/main", "/b.json",
		"--type", "JSON",
		"--file", writeTempJSON(t, `{"y":2}`),
		"--summary", "seed b.json",
	)...); err != nil {
		t.Fatalf("push b.json: %v", err)
	}

	out, err = runCLI(t, withServer(
		"merge", "perf/main",
		"--path", "/a.json",
		"--path", "/b.json",
	)...)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !strings.Contains(out, `"x"`) || !strings.Contains(out, `"y"`) {
		t.Fatalf("merge output = %q, want both keys", out)
	}

	out, err = runCLI(t, withServer("status")...)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "WRITABLE") {
		t.Fatalf("status output = %q, want WRITABLE", out)
	}
}

// TestCLIExitCodeClassification exercises classifyExit directly: a read
// from a nonexistent repository must surface as a client error (exit 1),
// per the CLI's 0/1/2/3 success/client-error/server-error/conflict
// exit-code contract.
func TestCLIExitCodeClassification(t *testing.T) {
	srv := newCLITestServer(t)

	_, err := runCLI(t, "--server", srv.URL, "cat", "nosuch/repo", "/a.json")
	if err == nil {
		t.Fatal("expected an error reading from a nonexistent repository")
	}
	if got := classifyExit(err); got != 1 {
		t.Fatalf("classifyExit(%v) = %d, want 1 (not-found is a client error)", err, got)
	}
}

func writeTempJSON(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.json")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return f.Name()
}
