package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func newTestServer(t *testing.T) (*httptest.Server, storage.RepoKey) {
	t.Helper()
	st := memory.New()
	bootstrap := storage.New(st, nil, nil)
	wm := watch.New(bootstrap)
	status := serverstatus.New()
	eng := storage.New(st, status, wm)
	status.RegisterShutdownHook(wm)

	repo := storage.RepoKey{Project: "p", Repo: "r"}
	if err := eng.CreateRepository(context.Background(), repo); err != nil {
		t.Fatalf("create repository: %v", err)
	}

	md := metadata.New(eng)
	if err := md.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap metadata: %v", err)
	}

	svc := content.New(eng, wm)
	svc.DefaultTimeout = 3 * time.Second
	handler := &httpapi.Server{Content: svc, Metadata: md, Status: status}
	srv := httptest.NewServer(handler.NewMux())
	t.Cleanup(srv.Close)
	return srv, repo
}

// Unrelated-path watch: after a push to test3.json, a watcher on
// test4.json with the current head as baseline does not resolve and the
// long poll answers 304 when its wait elapses.
func TestUnrelatedPathWatchTimesOut(t *testing.T) {
	srv, repo := newTestServer(t)

	pushBody := map[string]interface{}{
		"path":          "/test/test3.json",
		"type":          "JSON",
		"content":       []int{1, 2},
		"commitMessage": map[string]string{"summary": "add test3"},
	}
	doJSON(t, "POST", srv.URL+"/projects/"+repo.Project+"/repos/"+repo.Repo+"/contents", pushBody, http.StatusOK)

	req, _ := http.NewRequest("GET", srv.URL+"/projects/"+repo.Project+"/repos/"+repo.Repo+"/files/test/test4.json", nil)
	req.Header.Set("if-none-match", "1")
	req.Header.Set("Prefer", "wait=1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("watch request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304 for unrelated path, got %d", resp.StatusCode)
	}
}

// Scenario 3 from spec §8: immediate wake-up — push first, then
// register a watcher with the pre-push baseline; it resolves
// synchronously to the post-push head.
func TestImmediateWakeup(t *testing.T) {
	srv, repo := newTestServer(t)

	pushBody := map[string]interface{}{
		"path":          "/test/test3.json",
		"type":          "JSON",
		"content":       []int{1, 2},
		"commitMessage": map[string]string{"summary": "add test3"},
	}
	doJSON(t, "POST", srv.URL+"/projects/"+repo.Project+"/repos/"+repo.Repo+"/contents", pushBody, http.StatusOK)

	// A second push moves the head past the baseline a caller could
	// have captured after the first one, so the watch below must
	// resolve synchronously instead of registering a waiter.
	pushBody["content"] = []int{3, 4}
	doJSON(t, "POST", srv.URL+"/projects/"+repo.Project+"/repos/"+repo.Repo+"/contents", pushBody, http.StatusOK)

	req, _ := http.NewRequest("GET", srv.URL+"/projects/"+repo.Project+"/repos/"+repo.Repo+"/files/test/test3.json", nil)
	req.Header.Set("if-none-match", "1")
	req.Header.Set("Prefer", "wait=3")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("watch request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 immediate wakeup, got %d", resp.StatusCode)
	}
}

// Exercises the (added) /commits and /compare routes that expose
// ContentService's GetHistory and Diff over the wire.
func TestHistoryAndDiff(t *testing.T) {
	srv, repo := newTestServer(t)

	pushBody := map[string]interface{}{
		"path":          "/a.json",
		"type":          "JSON",
		"content":       []int{1},
		"commitMessage": map[string]string{"summary": "add a"},
	}
	doJSON(t, "POST", srv.URL+"/projects/"+repo.Project+"/repos/"+repo.Repo+"/contents", pushBody, http.StatusOK)

	req, _ := http.NewRequest("GET", srv.URL+"/projects/"+repo.Project+"/repos/"+repo.Repo+"/commits?from=0", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("history request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /commits, got %d", resp.StatusCode)
	}
	var commits []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		t.Fatalf("decode commits: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(commits))
	}

	req, _ = http.NewRequest("GET", srv.URL+"/projects/"+repo.Project+"/repos/"+repo.Repo+"/compare?from=0", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("diff request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /compare, got %d", resp.StatusCode)
	}
}

func doJSON(t *testing.T, method, url string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected status %d, got %d", wantStatus, resp.StatusCode)
	}
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func TestStatusGetPut(t *testing.T) {
	srv, _ := newTestServer(t)
	out := doJSON(t, "GET", srv.URL+"/status", nil, http.StatusOK)
	if out["status"] != string(serverstatus.Writable) {
		t.Fatalf("expected WRITABLE, got %v", out["status"])
	}

	out = doJSON(t, "PUT", srv.URL+"/status", map[string]string{"status": "READ_ONLY", "scope": "LOCAL"}, http.StatusOK)
	if out["status"] != string(serverstatus.ReadOnly) {
		t.Fatalf("expected READ_ONLY, got %v", out["status"])
	}

	// Writes are now rejected.
	pushBody := map[string]interface{}{
		"path":          "/x.txt",
		"type":          "TEXT",
		"content":       "hi",
		"commitMessage": map[string]string{"summary": "x"},
	}
	doJSON(t, "POST", srv.URL+"/projects/p/repos/r/contents", pushBody, http.StatusServiceUnavailable)
}
