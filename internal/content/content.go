// Package content implements ContentService: the thin orchestration
// layer composing RepositoryEngine, QueryEngine, ChangeCodec,
// MergeEngine and WatchManager behind the operations the HTTP surface
// calls one-to-one.
package content

import (
	"context"
	"time"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/merge"
	"github.com/line/centraldogma-sub005/internal/pattern"
	"github.com/line/centraldogma-sub005/internal/query"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/types"
	"github.com/line/centraldogma-sub005/internal/watch"
)

// Service composes the core engine, watch manager and default timeout
// policy into the operations a wire handler calls one-to-one.
type Service struct {
	eng *storage.Engine
	wm  *watch.Manager

	// DefaultTimeout and MaxTimeout bound watch calls per spec §5:
	// "Each watch has a deadline (default = caller-supplied, maximum =
	// configured server-side)."
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// New builds a Service. eng and wm must share the same underlying
// Store (wm is eng's registered Broadcaster).
func New(eng *storage.Engine, wm *watch.Manager) *Service {
	return &Service{
		eng:            eng,
		wm:             wm,
		DefaultTimeout: 10 * time.Second,
		MaxTimeout:     60 * time.Second,
	}
}

// clampTimeout enforces the server-side maximum, falling back to the
// default when the caller did not request one.
func (s *Service) clampTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return s.DefaultTimeout
	}
	if requested > s.MaxTimeout {
		return s.MaxTimeout
	}
	return requested
}

// CreateRepository registers a new, empty repository. Repository
// creation is an administrative operation (distinct from a content
// commit) but still goes through the same Engine this Service wraps,
// so the HTTP layer never needs direct access to storage.Engine.
func (s *Service) CreateRepository(ctx context.Context, repo storage.RepoKey) error {
	if err := reservedForDirectWrites(repo); err != nil {
		return err
	}
	return s.eng.CreateRepository(ctx, repo)
}

// GetFile runs a QueryEngine query against one entry at rev.
func (s *Service) GetFile(ctx context.Context, repo storage.RepoKey, rev types.Revision, path string, q query.Query) (*types.Entry, error) {
	return s.eng.GetFile(ctx, repo, rev, path, q)
}

// ListFiles returns every entry matching pathPattern at rev, ordered by
// path ascending (including synthetic directory entries when the
// pattern asks for them).
func (s *Service) ListFiles(ctx context.Context, repo storage.RepoKey, rev types.Revision, pathPattern string) ([]storage.PathEntry, error) {
	return s.eng.Find(ctx, repo, rev, pathPattern)
}

// reservedForDirectWrites rejects pushes aimed at the dogma repository:
// that repository's two documents are mutated exclusively through
// internal/metadata's JSON-patch transformers, never through arbitrary
// client-supplied changes.
func reservedForDirectWrites(repo storage.RepoKey) error {
	if repo.Repo == types.ReservedRepoDogma {
		return apierr.New(apierr.InvalidPush, "the %q repository is administrative and cannot be pushed to directly", types.ReservedRepoDogma)
	}
	return nil
}

// Push commits changes atop base and returns the new head revision.
func (s *Service) Push(ctx context.Context, repo storage.RepoKey, base types.Revision, author, summary, detail string, changes []types.Change) (types.Revision, error) {
	if err := reservedForDirectWrites(repo); err != nil {
		return 0, err
	}
	return s.eng.Commit(ctx, repo, base, author, summary, detail, changes)
}

// PreviewPush simulates Push without committing and returns the changes
// the commit would realize.
func (s *Service) PreviewPush(ctx context.Context, repo storage.RepoKey, base types.Revision, changes []types.Change) ([]types.Change, error) {
	return s.eng.PreviewDiff(ctx, repo, base, changes)
}

// GetHistory returns the commits with fromExclusive < revision <=
// toInclusive that touch at least one path matching pathPattern (every
// commit when pathPattern is "" or "/**"), judged by each commit's
// TouchedPaths. fromExclusive is a literal,
// absolute lower bound (0 means "from the beginning"); toInclusive is
// normalized, so HeadRevision resolves to the current head the way
// every other read operation's revision argument does.
func (s *Service) GetHistory(ctx context.Context, repo storage.RepoKey, fromExclusive, toInclusive types.Revision, pathPattern string) ([]types.Commit, error) {
	toAbs, err := s.eng.Normalize(ctx, repo, toInclusive)
	if err != nil {
		return nil, err
	}
	commits, err := s.eng.Commits(ctx, repo, fromExclusive, toAbs)
	if err != nil {
		return nil, err
	}
	if pathPattern == "" || pathPattern == "/**" {
		return commits, nil
	}
	matcher := pattern.Compile(pathPattern)
	var out []types.Commit
	for _, c := range commits {
		for _, p := range c.TouchedPaths() {
			if matcher.Match(p) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// Diff returns the deterministic Change list transforming the tree at
// from into the tree at to, restricted to pathPattern.
func (s *Service) Diff(ctx context.Context, repo storage.RepoKey, from, to types.Revision, pathPattern string) ([]types.Change, error) {
	return s.eng.Diff(ctx, repo, from, to, pathPattern)
}

// Merge resolves sources at rev through the MergeEngine.
func (s *Service) Merge(ctx context.Context, repo storage.RepoKey, rev types.Revision, sources []storage.MergeSource, jsonpath []string) (*merge.Result, error) {
	return s.eng.Merge(ctx, repo, rev, sources, jsonpath)
}

// WatchRepository long-polls for the next commit touching pathPattern.
// A nil result with a nil error means the deadline elapsed.
func (s *Service) WatchRepository(ctx context.Context, repo storage.RepoKey, base types.Revision, pathPattern string, timeout time.Duration, errorOnMissing bool) (*types.Revision, error) {
	if errorOnMissing {
		matches, err := s.eng.Find(ctx, repo, types.HeadRevision, pathPattern)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, apierr.New(apierr.EntryNotFound, "no entry currently matches %q", pathPattern)
		}
	}
	return s.wm.WatchRepository(ctx, repo, base, pathPattern, s.clampTimeout(timeout))
}

// WatchFile long-polls for the next change to q's result at path.
func (s *Service) WatchFile(ctx context.Context, repo storage.RepoKey, base types.Revision, path string, q query.Query, timeout time.Duration, errorOnMissing bool) (*watch.Result, error) {
	return s.wm.WatchFile(ctx, repo, base, path, q, s.clampTimeout(timeout), errorOnMissing)
}
