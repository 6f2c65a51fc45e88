// Package httpapi is the thin HTTP+JSON adapter over internal/content,
// internal/metadata and internal/serverstatus. It deliberately stays a
// hand-rolled net/http.ServeMux dispatch table instead of pulling in a
// routing framework, favoring an explicit operation-dispatch switch
// over a router library. Git-over-HTTP, mirror and plug-in scripting
// surfaces are out of scope; this only wires the operations that
// exercise the core.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/content"
	"github.com/line/centraldogma-sub005/internal/metadata"
	"github.com/line/centraldogma-sub005/internal/query"
	"github.com/line/centraldogma-sub005/internal/serverstatus"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/types"
	"github.com/line/centraldogma-sub005/internal/version"
)

// Server bundles the collaborators the HTTP surface calls into.
type Server struct {
	Content  *content.Service
	Metadata *metadata.Service
	Status   *serverstatus.Status
	Log      *logrus.Logger

	// VerboseErrors adds a "stack" field, carrying the error text, to
	// every error response. The caller's identity and role are not
	// consulted: without this flag no response has the field.
	VerboseErrors bool
}

// NewMux builds the routing table. Every handler goes through
// writeError on failure so the kind->status mapping in spec §7 is
// applied in exactly one place.
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /projects", s.listProjects)
	mux.HandleFunc("POST /projects", s.createProject)
	mux.HandleFunc("DELETE /projects/{project}", s.removeProject)
	mux.HandleFunc("PATCH /projects/{project}", s.restoreProject)

	mux.HandleFunc("GET /projects/{project}/repos", s.listRepos)
	mux.HandleFunc("POST /projects/{project}/repos", s.createRepo)
	mux.HandleFunc("DELETE /projects/{project}/repos/{repo}", s.removeRepo)
	mux.HandleFunc("PATCH /projects/{project}/repos/{repo}", s.restoreRepo)

	mux.HandleFunc("GET /projects/{project}/repos/{repo}/files/{path...}", s.getFile)
	mux.HandleFunc("GET /projects/{project}/repos/{repo}/contents/{path...}", s.getContents)
	mux.HandleFunc("POST /projects/{project}/repos/{repo}/contents", s.push)
	mux.HandleFunc("GET /projects/{project}/repos/{repo}/merge", s.merge)
	mux.HandleFunc("GET /projects/{project}/repos/{repo}/commits", s.history)
	mux.HandleFunc("GET /projects/{project}/repos/{repo}/compare", s.diff)
	mux.HandleFunc("GET /projects/{project}/repos/{repo}/watch", s.watchRepository)

	mux.HandleFunc("GET /status", s.getStatus)
	mux.HandleFunc("PUT /status", s.putStatus)

	return mux
}

// errorBody is the wire shape for a failed request: spec §7's
// {"exception":<kind>, "message":<human>} with an optional stack field.
type errorBody struct {
	Exception string `json:"exception"`
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	if kind == "" {
		kind = "internal-error"
	}
	status := kind.HTTPStatus()

	// Watch timeout is not an error on the wire; callers that hit this
	// path pass nil, never an *apierr.Error, so this function is never
	// reached for a timeout — see writeWatchResult.
	if kind == apierr.ShuttingDown && isWatchRequest(r) {
		// shutting-down on a watch response maps to 304 to preserve
		// client long-poll semantics per spec §7.
		w.WriteHeader(http.StatusNotModified)
		return
	}

	body := errorBody{Exception: string(kind), Message: err.Error()}
	if s.VerboseErrors {
		body.Stack = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
	if s.Log != nil {
		s.Log.WithError(err).WithField("kind", kind).Warn("request failed")
	}
}

func isWatchRequest(r *http.Request) bool {
	return r.Header.Get("prefer") != "" || r.Header.Get("Prefer") != ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func revisionParam(r *http.Request) types.Revision {
	raw := r.URL.Query().Get("revision")
	if raw == "" {
		return types.HeadRevision
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return types.HeadRevision
	}
	return types.Revision(n)
}

func repoKey(r *http.Request) storage.RepoKey {
	return storage.RepoKey{Project: r.PathValue("project"), Repo: r.PathValue("repo")}
}

func filePath(r *http.Request) string {
	p := r.PathValue("path")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// --- project/repo administrative handlers ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	// internal/metadata has no "list all projects" index today (every
	// project's row lives as a document named after the project, not in
	// a directory this layer enumerates); this stays a thin placeholder
	// a future metadata.ListProjects can fill without changing the
	// route or response shape.
	writeJSON(w, http.StatusOK, []string{})
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, apierr.Wrap(apierr.ChangeFormat, err, "malformed request body"))
		return
	}
	if err := types.ValidateProjectName(body.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	author := principalFrom(r)
	if err := s.Metadata.CreateProject(r.Context(), body.Name, author); err != nil {
		s.writeError(w, r, err)
		return
	}
	pm, err := s.Metadata.GetProjectMetadata(r.Context(), body.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pm)
}

func (s *Server) removeProject(w http.ResponseWriter, r *http.Request) {
	if err := s.Metadata.RemoveProject(r.Context(), r.PathValue("project"), principalFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreProject(w http.ResponseWriter, r *http.Request) {
	if err := s.Metadata.RestoreProject(r.Context(), r.PathValue("project"), principalFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	pm, err := s.Metadata.GetProjectMetadata(r.Context(), r.PathValue("project"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pm)
}

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	pm, err := s.Metadata.GetProjectMetadata(r.Context(), r.PathValue("project"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	names := make([]string, 0, len(pm.Repos))
	for name := range pm.Repos {
		names = append(names, name)
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) createRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, apierr.Wrap(apierr.ChangeFormat, err, "malformed request body"))
		return
	}
	if err := types.ValidateProjectName(body.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	if types.IsReserved(body.Name) {
		s.writeError(w, r, apierr.New(apierr.InvalidPush, "%q is a reserved repository name", body.Name))
		return
	}
	project := r.PathValue("project")
	key := storage.RepoKey{Project: project, Repo: body.Name}
	if err := createRepository(r, s.Content, key); err != nil {
		s.writeError(w, r, err)
		return
	}
	author := principalFrom(r)
	if err := s.Metadata.ReconcileRepositoryRow(r.Context(), project, body.Name, author); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": body.Name})
}

func (s *Server) removeRepo(w http.ResponseWriter, r *http.Request) {
	if err := s.Metadata.RemoveRepositoryRow(r.Context(), r.PathValue("project"), r.PathValue("repo"), principalFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreRepo(w http.ResponseWriter, r *http.Request) {
	if err := s.Metadata.RestoreRepositoryRow(r.Context(), r.PathValue("project"), r.PathValue("repo"), principalFrom(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- content handlers ---

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	s.serveQuery(w, r, query.Identity())
}

func (s *Server) getContents(w http.ResponseWriter, r *http.Request) {
	q := query.OfJSON()
	if exprs := r.URL.Query()["jsonpath"]; len(exprs) > 0 {
		q = query.OfJSONPath(exprs...)
	}
	s.serveQuery(w, r, q)
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request, q query.Query) {
	repo := repoKey(r)
	path := filePath(r)
	rev := revisionParam(r)

	if wait, ok := waitTimeout(r); ok {
		base := ifNoneMatchRevision(r)
		errorOnMissing := watchErrorOnMissing(r)
		res, err := s.Content.WatchFile(r.Context(), repo, base, path, q, wait, errorOnMissing)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if res == nil {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, res.Entry)
		return
	}

	entry, err := s.Content.GetFile(r.Context(), repo, rev, path, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entry == nil {
		s.writeError(w, r, apierr.New(apierr.EntryNotFound, "no entry at %q", path))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path          string        `json:"path"`
		Type          types.EntryType `json:"type"`
		Content       interface{}   `json:"content"`
		CommitMessage struct {
			Summary string `json:"summary"`
			Detail  string `json:"detail"`
		} `json:"commitMessage"`
		Changes []types.Change `json:"changes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, apierr.Wrap(apierr.ChangeFormat, err, "malformed request body"))
		return
	}
	changes := body.Changes
	if len(changes) == 0 && body.Path != "" {
		ch := types.Change{Path: body.Path}
		if body.Type == types.EntryText {
			ch.Type = types.ChangeUpsertText
			text, _ := body.Content.(string)
			ch.Text = text
		} else {
			ch.Type = types.ChangeUpsertJSON
			ch.JSON = body.Content
		}
		changes = []types.Change{ch}
	}
	rev, err := s.Content.Push(r.Context(), repoKey(r), revisionParam(r), principalFrom(r), body.CommitMessage.Summary, body.CommitMessage.Detail, changes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.Revision{"revision": rev})
}

func (s *Server) merge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var sources []storage.MergeSource
	for _, p := range q["path"] {
		sources = append(sources, storage.MergeSource{Path: p, Optional: false})
	}
	for _, p := range q["optional_path"] {
		sources = append(sources, storage.MergeSource{Path: p, Optional: true})
	}
	result, err := s.Content.Merge(r.Context(), repoKey(r), revisionParam(r), sources, q["jsonpath"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := types.Revision(0)
	if raw := q.Get("from"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			from = types.Revision(n)
		}
	}
	to := revisionParam(r)
	commits, err := s.Content.GetHistory(r.Context(), repoKey(r), from, to, q.Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commits)
}

func (s *Server) diff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := types.HeadRevision
	if raw := q.Get("from"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			from = types.Revision(n)
		}
	}
	to := revisionParam(r)
	changes, err := s.Content.Diff(r.Context(), repoKey(r), from, to, q.Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) watchRepository(w http.ResponseWriter, r *http.Request) {
	wait, ok := waitTimeout(r)
	if !ok {
		wait = 10 * time.Second
	}
	base := ifNoneMatchRevision(r)
	pattern := r.URL.Query().Get("pathPattern")
	if pattern == "" {
		pattern = "/**"
	}
	rev, err := s.Content.WatchRepository(r.Context(), repoKey(r), base, pattern, wait, watchErrorOnMissing(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rev == nil {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.Revision{"revision": *rev})
}

// --- status handlers ---

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  string(s.Status.Current()),
		"version": version.Version,
	})
}

func (s *Server) putStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status serverstatus.State `json:"status"`
		Scope  serverstatus.Scope `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, apierr.Wrap(apierr.ChangeFormat, err, "malformed request body"))
		return
	}
	if body.Scope == "" {
		body.Scope = serverstatus.ScopeLocal
	}
	if err := s.Status.Transition(body.Status, body.Scope); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.Status.Current())})
}

// --- wire-format helpers ---

// waitTimeout parses the `prefer: wait=<seconds>` header the watch
// variant of a GET request carries.
func waitTimeout(r *http.Request) (time.Duration, bool) {
	prefer := r.Header.Get("Prefer")
	const marker = "wait="
	idx := strings.Index(prefer, marker)
	if idx < 0 {
		return 0, false
	}
	rest := prefer[idx+len(marker):]
	if end := strings.IndexByte(rest, ';'); end >= 0 {
		rest = rest[:end]
	}
	secs, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func ifNoneMatchRevision(r *http.Request) types.Revision {
	raw := r.Header.Get("if-none-match")
	if raw == "" {
		raw = r.Header.Get("If-None-Match")
	}
	raw = strings.Trim(raw, `"`)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return types.HeadRevision
	}
	return types.Revision(n)
}

func watchErrorOnMissing(r *http.Request) bool {
	v := r.URL.Query().Get("errorOnEntryNotFound")
	b, _ := strconv.ParseBool(v)
	return b
}

// principalFrom resolves the author/principal the commit log records.
// Authentication itself (bearer token parsing, role checks) is the
// HTTP router/auth-provider collaborator's job and explicitly out of
// scope; this reads whatever identity that collaborator already
// attached to the request context, falling back to "anonymous" so the
// content/metadata layers underneath always have a non-empty author.
func principalFrom(r *http.Request) string {
	if v := r.Context().Value(principalContextKey{}); v != nil {
		if name, ok := v.(string); ok && name != "" {
			return name
		}
	}
	if u := r.Header.Get("X-Dogma-Principal"); u != "" {
		return u
	}
	return "anonymous"
}

type principalContextKey struct{}

// createRepository is a tiny indirection so createRepo can call through
// content.Service without exposing storage.Engine.CreateRepository on
// the public Service API (repository creation is an administrative
// operation, not a content operation, but it still runs through the
// same engine content.Service already holds).
func createRepository(r *http.Request, c *content.Service, key storage.RepoKey) error {
	return c.CreateRepository(r.Context(), key)
}
