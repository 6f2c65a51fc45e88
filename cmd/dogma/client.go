package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/line/centraldogma-sub005/internal/query"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/types"
)

// apiError is the client-side view of an internal/httpapi errorBody: it
// carries the HTTP status the server answered with so Execute can map
// it to an exit code without re-deriving the kind->status table.
type apiError struct {
	Status    int
	Exception string
	Message   string
}

func (e *apiError) Error() string {
	if e.Exception != "" {
		return fmt.Sprintf("%s: %s", e.Exception, e.Message)
	}
	return e.Message
}

// Client talks to a running dogma server over the internal/httpapi wire
// format. It deliberately has no retry/backoff logic of its own, leaving
// reconnection policy to the caller rather than the client library.
type Client struct {
	BaseURL   string
	Principal string
	http      *http.Client
}

func dialClient(baseURL, principal string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Principal: principal,
		http:      &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, body interface{}, out interface{}) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Principal != "" {
		req.Header.Set("X-Dogma-Principal", c.Principal)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return errNotModified
	}
	if resp.StatusCode >= 400 {
		var eb struct {
			Exception string `json:"exception"`
			Message   string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &apiError{Status: resp.StatusCode, Exception: eb.Exception, Message: eb.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errNotModified signals a watch request resolved by timing out rather
// than by an actual change; it is not an apiError because 304 is a
// successful outcome on the wire, just one with nothing to report.
var errNotModified = fmt.Errorf("not modified")

func (c *Client) createProject(ctx context.Context, name string) (*types.Project, error) {
	var out types.Project
	if err := c.do(ctx, "POST", "/projects", nil, nil, map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) removeProject(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", "/projects/"+url.PathEscape(name), nil, nil, nil, nil)
}

func (c *Client) restoreProject(ctx context.Context, name string) (*types.Project, error) {
	var out types.Project
	if err := c.do(ctx, "PATCH", "/projects/"+url.PathEscape(name), nil, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) listRepos(ctx context.Context, project string) ([]string, error) {
	var out []string
	err := c.do(ctx, "GET", "/projects/"+url.PathEscape(project)+"/repos", nil, nil, nil, &out)
	return out, err
}

func (c *Client) createRepo(ctx context.Context, project, repo string) error {
	path := "/projects/" + url.PathEscape(project) + "/repos"
	return c.do(ctx, "POST", path, nil, nil, map[string]string{"name": repo}, nil)
}

func (c *Client) removeRepo(ctx context.Context, project, repo string) error {
	path := "/projects/" + url.PathEscape(project) + "/repos/" + url.PathEscape(repo)
	return c.do(ctx, "DELETE", path, nil, nil, nil, nil)
}

func (c *Client) getFile(ctx context.Context, repo storage.RepoKey, rev types.Revision, path string, q query.Query) (*types.Entry, error) {
	vals := url.Values{"revision": {strconv.FormatInt(int64(rev), 10)}}
	if q.Kind == query.KindJSONPath {
		vals["jsonpath"] = q.Expressions
	}
	route := "/contents"
	if q.Kind == query.KindIdentity {
		route = "/files"
	}
	var out types.Entry
	err := c.do(ctx, "GET", repoBase(repo)+route+escapePath(path), vals, nil, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) push(ctx context.Context, repo storage.RepoKey, base types.Revision, summary, detail string, changes []types.Change) (types.Revision, error) {
	body := map[string]interface{}{
		"changes":       changes,
		"commitMessage": map[string]string{"summary": summary, "detail": detail},
	}
	vals := url.Values{"revision": {strconv.FormatInt(int64(base), 10)}}
	var out struct {
		Revision types.Revision `json:"revision"`
	}
	err := c.do(ctx, "POST", repoBase(repo)+"/contents", vals, nil, body, &out)
	return out.Revision, err
}

func (c *Client) merge(ctx context.Context, repo storage.RepoKey, rev types.Revision, sources []storage.MergeSource, jsonpath []string) (map[string]interface{}, error) {
	vals := url.Values{"revision": {strconv.FormatInt(int64(rev), 10)}}
	for _, s := range sources {
		if s.Optional {
			vals.Add("optional_path", s.Path)
		} else {
			vals.Add("path", s.Path)
		}
	}
	for _, p := range jsonpath {
		vals.Add("jsonpath", p)
	}
	var out map[string]interface{}
	err := c.do(ctx, "GET", repoBase(repo)+"/merge", vals, nil, nil, &out)
	return out, err
}

func (c *Client) watchFile(ctx context.Context, repo storage.RepoKey, base types.Revision, path string, q query.Query, wait time.Duration) (*types.Entry, error) {
	vals := url.Values{}
	if q.Kind == query.KindJSONPath {
		vals["jsonpath"] = q.Expressions
	}
	route := "/contents"
	if q.Kind == query.KindIdentity {
		route = "/files"
	}
	headers := map[string]string{
		"if-none-match": strconv.FormatInt(int64(base), 10),
		"Prefer":        fmt.Sprintf("wait=%d", int(wait.Seconds())),
	}
	var out types.Entry
	err := c.do(ctx, "GET", repoBase(repo)+route+escapePath(path), vals, headers, nil, &out)
	if err == errNotModified {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) watchRepository(ctx context.Context, repo storage.RepoKey, base types.Revision, pathPattern string, wait time.Duration) (*types.Revision, error) {
	vals := url.Values{"pathPattern": {pathPattern}}
	headers := map[string]string{
		"if-none-match": strconv.FormatInt(int64(base), 10),
		"Prefer":        fmt.Sprintf("wait=%d", int(wait.Seconds())),
	}
	var out struct {
		Revision types.Revision `json:"revision"`
	}
	err := c.do(ctx, "GET", repoBase(repo)+"/watch", vals, headers, nil, &out)
	if err == errNotModified {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out.Revision, nil
}

func (c *Client) getStatus(ctx context.Context) (string, error) {
	status, _, err := c.getStatusAndVersion(ctx)
	return status, err
}

// getStatusAndVersion additionally returns the server's reported
// version, so callers can run version.CheckCompatible against the
// locally compiled-in version before relying on the connection.
func (c *Client) getStatusAndVersion(ctx context.Context) (status, serverVersion string, err error) {
	var out struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	err = c.do(ctx, "GET", "/status", nil, nil, nil, &out)
	return out.Status, out.Version, err
}

func (c *Client) putStatus(ctx context.Context, state, scope string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	body := map[string]string{"status": state, "scope": scope}
	err := c.do(ctx, "PUT", "/status", nil, nil, body, &out)
	return out.Status, err
}

func repoBase(repo storage.RepoKey) string {
	return "/projects/" + url.PathEscape(repo.Project) + "/repos/" + url.PathEscape(repo.Repo)
}

func escapePath(p string) string {
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segs, "/")
}
