// Package watch implements the WatchManager: long-poll style
// notification when a repository or a single file changes. It
// satisfies storage.Broadcaster so the RepositoryEngine can notify it
// after every accepted commit, and is itself the thing HTTP long-poll
// handlers and the CLI's watch command block on.
//
// A per-waiter channel is resolved exactly once, dispatch to waiters on
// a broadcast is bounded by a worker pool rather than an unbounded
// goroutine-per-waiter fan-out, and shutdown is two-phase (quiesce,
// then force) so in-flight long polls get a chance to drain.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/changeset"
	"github.com/line/centraldogma-sub005/internal/pattern"
	"github.com/line/centraldogma-sub005/internal/query"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/types"
)

// Result is what a waiter receives when it wakes: either a new
// revision to report to the caller, or an error (ShuttingDown on server
// shutdown, or a failure re-running a watchFile query). A watchFile
// target that stopped existing wakes with a nil Entry and no error.
type Result struct {
	Revision types.Revision
	Entry    *types.Entry
	Err      error
}

// waiter is one outstanding watchRepository or watchFile call.
type waiter struct {
	id       string
	matcher  *pattern.Matcher
	notifyCh chan Result
	once     sync.Once

	// fileQuery/lastEntry are set only for watchFile: broadcast alone
	// cannot tell whether a matching commit actually changed the
	// queried projection, so the dispatcher re-evaluates the query and
	// compares before waking the caller (the "transforming watcher").
	filePath  string
	fileQuery *query.Query
	lastEntry *types.Entry
}

func (w *waiter) resolve(r Result) {
	w.once.Do(func() { w.notifyCh <- r })
}

// Manager holds the waiter registry for every watched repository and
// dispatches broadcasts to them through a bounded worker pool.
type Manager struct {
	eng *storage.Engine

	mu      sync.Mutex
	waiters map[storage.RepoKey]map[string]*waiter

	dispatchConcurrency int

	shutdownMu sync.Mutex
	shutdown   bool
}

// New builds a Manager. eng is used to resolve the current head and
// re-run file queries when checking whether a stale baseline already
// missed the relevant change; it must be the same Engine this Manager
// is registered on as its Broadcaster.
func New(eng *storage.Engine) *Manager {
	return &Manager{
		eng:                 eng,
		waiters:             make(map[storage.RepoKey]map[string]*waiter),
		dispatchConcurrency: 32,
	}
}

// WatchRepository blocks until some commit touches a path matching
// pathPattern, the context is cancelled, or timeout elapses. base is
// the revision the caller already has; a null revision (no error) is
// returned on timeout.
func (m *Manager) WatchRepository(ctx context.Context, repo storage.RepoKey, base types.Revision, pathPattern string, timeout time.Duration) (*types.Revision, error) {
	res, err := m.watch(ctx, repo, base, pathPattern, timeout, nil, "")
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	rev := res.Revision
	return &rev, nil
}

// WatchFile blocks until the value of q evaluated against path
// changes, differing from the value observed at base. If errorOnMissing
// is true and path currently matches nothing, it fails fast with
// EntryNotFound instead of waiting.
func (m *Manager) WatchFile(ctx context.Context, repo storage.RepoKey, base types.Revision, path string, q query.Query, timeout time.Duration, errorOnMissing bool) (*Result, error) {
	if errorOnMissing {
		entry, err := m.eng.GetEntry(ctx, repo, types.HeadRevision, path)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, apierr.New(apierr.EntryNotFound, "no entry at %q to watch", path)
		}
	}
	baseline, err := m.eng.GetFile(ctx, repo, base, path, q)
	if err != nil && apierr.KindOf(err) != apierr.EntryNotFound {
		return nil, err
	}
	res, err := m.watch(ctx, repo, base, path, timeout, &q, path)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	if baseline != nil && res.Entry != nil && entryEqual(baseline, res.Entry) {
		// The matching commit didn't change this projection's value
		// relative to base. A broadcast wake-up was already compared by
		// the dispatcher; an immediate wake-up on a stale baseline is
		// compared only here.
		return nil, nil
	}
	return res, nil
}

func (m *Manager) currentFileResult(ctx context.Context, repo storage.RepoKey, path string, q query.Query) (*types.Entry, error) {
	return m.eng.GetFile(ctx, repo, types.HeadRevision, path, q)
}

func entryEqual(a, b *types.Entry) bool {
	if a == nil || b == nil {
		return a == b
	}
	return changeset.ContentEqual(a.Content, b.Content)
}

// watch is the shared implementation behind WatchRepository and
// WatchFile. fileQuery is nil for a repository-level watch.
func (m *Manager) watch(ctx context.Context, repo storage.RepoKey, base types.Revision, pathPattern string, timeout time.Duration, fileQuery *query.Query, filePath string) (*Result, error) {
	m.shutdownMu.Lock()
	down := m.shutdown
	m.shutdownMu.Unlock()
	if down {
		return nil, apierr.New(apierr.ShuttingDown, "server is shutting down")
	}

	baseAbs, err := m.eng.Normalize(ctx, repo, base)
	if err != nil {
		return nil, err
	}
	head, err := m.eng.Head(ctx, repo)
	if err != nil {
		return nil, err
	}
	matcher := pattern.Compile(pathPattern)

	if baseAbs < head {
		// The caller's baseline is already stale: check whether any
		// commit since base touched a matching path and, if so, wake
		// up immediately instead of registering a waiter that would
		// never fire.
		commits, err := m.eng.Commits(ctx, repo, baseAbs, head)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			for _, p := range c.TouchedPaths() {
				if matcher.Match(p) {
					return m.resultFor(ctx, repo, c.Revision, fileQuery, filePath)
				}
			}
		}
	}

	w := &waiter{
		id:       uuid.NewString(),
		matcher:  matcher,
		notifyCh: make(chan Result, 1),
		filePath: filePath,
	}
	if fileQuery != nil {
		q := *fileQuery
		w.fileQuery = &q
		w.lastEntry, _ = m.currentFileResult(ctx, repo, filePath, *fileQuery)
	}
	m.register(repo, w)
	defer m.unregister(repo, w.id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w.notifyCh:
		if r.Err != nil {
			return nil, r.Err
		}
		return &r, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) resultFor(ctx context.Context, repo storage.RepoKey, rev types.Revision, fileQuery *query.Query, filePath string) (*Result, error) {
	if fileQuery == nil {
		return &Result{Revision: rev}, nil
	}
	entry, err := m.eng.GetFile(ctx, repo, rev, filePath, *fileQuery)
	if err != nil && apierr.KindOf(err) != apierr.EntryNotFound {
		return nil, err
	}
	return &Result{Revision: rev, Entry: entry}, nil
}

func (m *Manager) register(repo storage.RepoKey, w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.waiters[repo]
	if !ok {
		set = make(map[string]*waiter)
		m.waiters[repo] = set
	}
	set[w.id] = w
}

func (m *Manager) unregister(repo storage.RepoKey, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.waiters[repo]; ok {
		delete(set, id)
	}
}

// Broadcast implements storage.Broadcaster. It is called synchronously
// by Engine.Commit right after a commit is durably appended; it
// returns once every matching waiter's notification has been
// dispatched (not necessarily consumed), bounding fan-out concurrency
// through a worker pool the way server_core.go bounds connection and
// mutation-channel concurrency.
func (m *Manager) Broadcast(repo storage.RepoKey, newRev types.Revision, touchedPaths []string) {
	m.mu.Lock()
	set := m.waiters[repo]
	var matched []*waiter
	for _, w := range set {
		for _, p := range touchedPaths {
			if w.matcher.Match(p) {
				matched = append(matched, w)
				break
			}
		}
	}
	m.mu.Unlock()
	if len(matched) == 0 {
		return
	}

	p := pool.New().WithMaxGoroutines(m.dispatchConcurrency)
	for _, w := range matched {
		w := w
		p.Go(func() {
			m.dispatchOne(repo, newRev, w)
		})
	}
	p.Wait()
}

// dispatchOne resolves a single waiter, re-running its query for
// watchFile waiters so a commit that touches the path but leaves the
// queried projection unchanged doesn't produce a spurious wakeup.
func (m *Manager) dispatchOne(repo storage.RepoKey, newRev types.Revision, w *waiter) {
	if w.fileQuery == nil {
		w.resolve(Result{Revision: newRev})
		return
	}
	entry, err := m.eng.GetFile(context.Background(), repo, newRev, w.filePath, *w.fileQuery)
	if err != nil && apierr.KindOf(err) != apierr.EntryNotFound {
		w.resolve(Result{Revision: newRev, Err: err})
		return
	}
	if entryEqual(w.lastEntry, entry) {
		return
	}
	w.resolve(Result{Revision: newRev, Entry: entry})
}

// Shutdown rejects new watches and resolves every outstanding waiter
// with ShuttingDown, giving HTTP handlers a chance to reply before the
// listener closes rather than leaving long polls hanging.
func (m *Manager) Shutdown() {
	m.shutdownMu.Lock()
	m.shutdown = true
	m.shutdownMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range m.waiters {
		for _, w := range set {
			w.resolve(Result{Err: apierr.New(apierr.ShuttingDown, "server is shutting down")})
		}
	}
}
