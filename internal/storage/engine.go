package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/changeset"
	"github.com/line/centraldogma-sub005/internal/merge"
	"github.com/line/centraldogma-sub005/internal/pattern"
	"github.com/line/centraldogma-sub005/internal/query"
	"github.com/line/centraldogma-sub005/internal/types"
)

// WriteGate is consulted before every commit; implemented by
// internal/serverstatus. A nil gate allows all writes (used in tests).
type WriteGate interface {
	CheckWritable(repo RepoKey) error
}

// Broadcaster is notified after every accepted commit; implemented by
// internal/watch. A nil broadcaster is a no-op.
type Broadcaster interface {
	Broadcast(repo RepoKey, newRev types.Revision, touchedPaths []string)
}

// Engine is the RepositoryEngine: the storage core every wire operation
// ultimately goes through. It owns per-repository commit serialization
// and delegates durability to a Store.
type Engine struct {
	store       Store
	gate        WriteGate
	broadcaster Broadcaster

	locksMu sync.Mutex
	locks   map[RepoKey]*sync.Mutex
}

// New builds an Engine over store. gate and broadcaster may be nil.
func New(store Store, gate WriteGate, broadcaster Broadcaster) *Engine {
	return &Engine{store: store, gate: gate, broadcaster: broadcaster, locks: make(map[RepoKey]*sync.Mutex)}
}

func (e *Engine) writeLock(repo RepoKey) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[repo]
	if !ok {
		l = &sync.Mutex{}
		e.locks[repo] = l
	}
	return l
}

// CreateRepository registers a new, empty repository.
func (e *Engine) CreateRepository(ctx context.Context, repo RepoKey) error {
	return e.store.CreateRepository(ctx, repo)
}

// Head returns the current head revision. Never blocks on the write lock.
func (e *Engine) Head(ctx context.Context, repo RepoKey) (types.Revision, error) {
	return e.store.Head(ctx, repo)
}

// Normalize maps a possibly-relative revision to an absolute one.
func (e *Engine) Normalize(ctx context.Context, repo RepoKey, rev types.Revision) (types.Revision, error) {
	head, err := e.store.Head(ctx, repo)
	if err != nil {
		return 0, err
	}
	return normalize(rev, head)
}

func normalize(rev, head types.Revision) (types.Revision, error) {
	abs := rev
	if rev.IsRelative() {
		r := rev
		if r == 0 {
			r = types.HeadRevision
		}
		abs = head + r + 1
	}
	if abs == 0 && head == 0 {
		// A repository with no commits yet reads as the empty tree at
		// revision 0.
		return 0, nil
	}
	if abs <= 0 || abs > head {
		return 0, apierr.New(apierr.RevisionNotFound, "revision %d does not exist (head=%d)", rev, head)
	}
	return abs, nil
}

// GetEntry returns the entry at path as of rev, or nil if no such path
// exists. It only raises an error for an invalid revision.
func (e *Engine) GetEntry(ctx context.Context, repo RepoKey, rev types.Revision, path string) (*types.Entry, error) {
	abs, err := e.Normalize(ctx, repo, rev)
	if err != nil {
		return nil, err
	}
	tree, err := e.store.TreeAt(ctx, repo, abs)
	if err != nil {
		return nil, err
	}
	entry, ok := tree[path]
	if !ok {
		return nil, nil
	}
	cp := *entry
	cp.Revision = abs
	return &cp, nil
}

// GetFile runs the QueryEngine against the entry at path and rev.
func (e *Engine) GetFile(ctx context.Context, repo RepoKey, rev types.Revision, path string, q query.Query) (*types.Entry, error) {
	entry, err := e.GetEntry(ctx, repo, rev, path)
	if err != nil {
		return nil, err
	}
	return query.Evaluate(entry, q)
}

// PathEntry pairs a matched path with its entry, for Find's ordered result.
type PathEntry struct {
	Path  string
	Entry *types.Entry
}

// Find returns every entry (plus synthetic directory entries, when the
// pattern's final literal segment has no file-type suffix) matching
// pathPattern at rev, ordered by path ascending.
func (e *Engine) Find(ctx context.Context, repo RepoKey, rev types.Revision, pathPattern string) ([]PathEntry, error) {
	abs, err := e.Normalize(ctx, repo, rev)
	if err != nil {
		return nil, err
	}
	tree, err := e.store.TreeAt(ctx, repo, abs)
	if err != nil {
		return nil, err
	}
	matcher := pattern.Compile(pathPattern)

	var out []PathEntry
	for path, entry := range tree {
		if matcher.Match(path) {
			cp := *entry
			cp.Revision = abs
			out = append(out, PathEntry{Path: path, Entry: &cp})
		}
	}
	if wantsDirectories(pathPattern) {
		for _, dir := range directoryPrefixes(tree) {
			if matcher.Match(dir) {
				out = append(out, PathEntry{Path: dir, Entry: &types.Entry{Revision: abs, Path: dir, Type: types.EntryDirectory}})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return dedupPaths(out), nil
}

// wantsDirectories reports whether pathPattern's final literal segment
// looks like a directory reference rather than a filename: no "." in
// the segment immediately before a wildcard or at the pattern's end.
func wantsDirectories(p string) bool {
	for _, union := range strings.Split(p, ",") {
		seg := strings.TrimSpace(union)
		seg = strings.TrimSuffix(seg, "/**")
		seg = strings.TrimSuffix(seg, "/*")
		last := seg
		if i := strings.LastIndexByte(seg, '/'); i >= 0 {
			last = seg[i+1:]
		}
		if last == "" || !strings.Contains(last, ".") {
			return true
		}
	}
	return false
}

// directoryPrefixes derives every implicit directory path from tree's
// file paths (every "/" separated prefix except the path itself).
func directoryPrefixes(tree map[string]*types.Entry) []string {
	seen := make(map[string]bool)
	var dirs []string
	for path := range tree {
		parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
		prefix := ""
		for i := 0; i < len(parts)-1; i++ {
			prefix += "/" + parts[i]
			if !seen[prefix] {
				seen[prefix] = true
				dirs = append(dirs, prefix)
			}
		}
	}
	return dirs
}

func dedupPaths(in []PathEntry) []PathEntry {
	out := in[:0]
	var last string
	first := true
	for _, pe := range in {
		if !first && pe.Path == last {
			continue
		}
		out = append(out, pe)
		last = pe.Path
		first = false
	}
	return out
}

// Diff computes the deterministic Change list that transforms the tree
// at from into the tree at to, restricted to pathPattern, ordered by
// path ascending.
func (e *Engine) Diff(ctx context.Context, repo RepoKey, from, to types.Revision, pathPattern string) ([]types.Change, error) {
	fromAbs, err := e.Normalize(ctx, repo, from)
	if err != nil {
		return nil, err
	}
	toAbs, err := e.Normalize(ctx, repo, to)
	if err != nil {
		return nil, err
	}
	fromTree, err := e.store.TreeAt(ctx, repo, fromAbs)
	if err != nil {
		return nil, err
	}
	toTree, err := e.store.TreeAt(ctx, repo, toAbs)
	if err != nil {
		return nil, err
	}
	matcher := pattern.Compile(pathPattern)
	return diffTrees(fromTree, toTree, matcher), nil
}

func diffTrees(fromTree, toTree map[string]*types.Entry, matcher *pattern.Matcher) []types.Change {
	paths := make(map[string]bool)
	for p := range fromTree {
		paths[p] = true
	}
	for p := range toTree {
		paths[p] = true
	}
	var changes []types.Change
	for p := range paths {
		if !matcher.Match(p) {
			continue
		}
		before, beforeOK := fromTree[p]
		after, afterOK := toTree[p]
		switch {
		case beforeOK && !afterOK:
			changes = append(changes, types.Change{Type: types.ChangeRemove, Path: p})
		case !beforeOK && afterOK:
			changes = append(changes, upsertChange(p, after))
		case beforeOK && afterOK:
			if !changeset.ContentEqual(before.Content, after.Content) || before.Type != after.Type {
				changes = append(changes, upsertChange(p, after))
			}
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changePath(changes[i]) < changePath(changes[j]) })
	return changes
}

func changePath(c types.Change) string {
	if c.Type == types.ChangeRename {
		return c.OldPath
	}
	return c.Path
}

func upsertChange(path string, entry *types.Entry) types.Change {
	if entry.Type == types.EntryText {
		text, _ := entry.Content.(string)
		return types.Change{Type: types.ChangeUpsertText, Path: path, Text: text}
	}
	return types.Change{Type: types.ChangeUpsertJSON, Path: path, JSON: entry.Content}
}

// PreviewDiff simulates committing changes atop base and returns the
// realized Change list, without persisting anything. It raises the same
// errors a real commit would.
func (e *Engine) PreviewDiff(ctx context.Context, repo RepoKey, base types.Revision, changes []types.Change) ([]types.Change, error) {
	baseAbs, err := e.Normalize(ctx, repo, base)
	if err != nil {
		return nil, err
	}
	baseTree, err := e.store.TreeAt(ctx, repo, baseAbs)
	if err != nil {
		return nil, err
	}
	targetTree, _, err := applyChanges(baseTree, changes)
	if err != nil {
		return nil, err
	}
	return diffTrees(baseTree, targetTree, pattern.Compile("/**")), nil
}

// applyChanges decodes and applies changes in order against base,
// returning the resulting tree and the set of touched paths.
func applyChanges(base map[string]*types.Entry, changes []types.Change) (map[string]*types.Entry, []string, error) {
	working := mapTree(base)
	tree := &workingTree{entries: working}
	var touched []string
	for _, ch := range changes {
		effects, err := changeset.Decode(tree, ch)
		if err != nil {
			return nil, nil, err
		}
		for _, eff := range effects {
			touched = append(touched, eff.Path)
			if eff.Remove {
				delete(working, eff.Path)
				continue
			}
			working[eff.Path] = &types.Entry{Path: eff.Path, Type: eff.Type, Content: eff.Content, YAMLTag: eff.YAMLTag}
		}
	}
	return working, touched, nil
}

// workingTree adapts a map[string]*types.Entry to changeset.Tree.
type workingTree struct{ entries map[string]*types.Entry }

func (w *workingTree) Get(path string) (*types.Entry, bool) {
	e, ok := w.entries[path]
	return e, ok
}

func mapTree(tree map[string]*types.Entry) map[string]*types.Entry {
	out := make(map[string]*types.Entry, len(tree))
	for k, v := range tree {
		cp := *v
		out[k] = &cp
	}
	return out
}

// Commit runs the full commit algorithm: write-gate check, optional
// rebase, change normalization, no-op and conflict detection, durable
// append, and broadcast.
func (e *Engine) Commit(ctx context.Context, repo RepoKey, base types.Revision, author, summary, detail string, changes []types.Change) (types.Revision, error) {
	if e.gate != nil {
		if err := e.gate.CheckWritable(repo); err != nil {
			return 0, err
		}
	}
	if len(changes) == 0 {
		return 0, apierr.New(apierr.ChangeFormat, "a commit must contain at least one change")
	}

	lock := e.writeLock(repo)
	lock.Lock()
	defer lock.Unlock()

	head, err := e.store.Head(ctx, repo)
	if err != nil {
		return 0, err
	}
	baseAbs, err := normalize(base, head)
	if err != nil {
		return 0, err
	}

	applyAgainst := baseAbs
	baseTree, err := e.store.TreeAt(ctx, repo, baseAbs)
	if err != nil {
		return 0, err
	}

	if baseAbs < head {
		// Rebase: the target tree computed against the stale baseline
		// must agree with head on every path the commit touches, or a
		// concurrent writer has raced us.
		targetTree, touched, err := applyChanges(baseTree, changes)
		if err != nil {
			return 0, err
		}
		headTree, err := e.store.TreeAt(ctx, repo, head)
		if err != nil {
			return 0, err
		}
		for _, path := range touched {
			baseEntry, inBase := baseTree[path]
			headEntry, inHead := headTree[path]
			if inBase != inHead {
				return 0, apierr.New(apierr.ChangeConflict, "concurrent modification of %q", path)
			}
			if inBase && !changeset.ContentEqual(baseEntry.Content, headEntry.Content) {
				return 0, apierr.New(apierr.ChangeConflict, "concurrent modification of %q", path)
			}
		}
		_ = targetTree
		applyAgainst = head
		baseTree = headTree
	}

	targetTree, touched, err := applyChanges(baseTree, changes)
	if err != nil {
		return 0, err
	}
	if allNoop(baseTree, targetTree, touched) {
		return 0, apierr.New(apierr.RedundantChange, "commit has no effect versus head")
	}
	_ = applyAgainst

	newRev := head + 1
	commit := types.Commit{
		Revision:       newRev,
		ParentRevision: newRev - 1,
		Author:         author,
		Summary:        summary,
		Detail:         detail,
		Changes:        changes,
	}
	if err := e.store.AppendCommit(ctx, repo, commit, targetTree); err != nil {
		return 0, err
	}
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(repo, newRev, commit.TouchedPaths())
	}
	return newRev, nil
}

func allNoop(before, after map[string]*types.Entry, touched []string) bool {
	for _, path := range touched {
		b, inBefore := before[path]
		a, inAfter := after[path]
		if inBefore != inAfter {
			return false
		}
		if inBefore && (b.Type != a.Type || !changeset.ContentEqual(b.Content, a.Content)) {
			return false
		}
	}
	return len(touched) > 0
}

// MergeSource is one requested source for Merge: a path and whether a
// missing entry at that path is tolerated.
type MergeSource struct {
	Path     string
	Optional bool
}

// Commits returns the commits with fromExclusive < revision <= toInclusive,
// ascending. Used by WatchManager to check whether a stale baseline has
// already missed a relevant commit, and by ContentService.GetHistory.
func (e *Engine) Commits(ctx context.Context, repo RepoKey, fromExclusive, toInclusive types.Revision) ([]types.Commit, error) {
	return e.store.ListCommits(ctx, repo, fromExclusive, toInclusive)
}

// Merge resolves sources at rev and delegates to the MergeEngine.
func (e *Engine) Merge(ctx context.Context, repo RepoKey, rev types.Revision, sources []MergeSource, jsonpath []string) (*merge.Result, error) {
	abs, err := e.Normalize(ctx, repo, rev)
	if err != nil {
		return nil, err
	}
	mergeSources := make([]merge.Source, 0, len(sources))
	for _, s := range sources {
		entry, err := e.GetEntry(ctx, repo, abs, s.Path)
		if err != nil {
			return nil, err
		}
		mergeSources = append(mergeSources, merge.Source{Path: s.Path, Optional: s.Optional, Entry: entry})
	}
	return merge.Merge(mergeSources, jsonpath)
}
