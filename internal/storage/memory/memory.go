// Package memory implements storage.Store entirely in process memory.
// The tests use it; `dogma serve` always uses the SQLite store.
// Everything it stores is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/types"
)

type repoState struct {
	commits []types.Commit               // index i holds revision i+1
	trees   []map[string]*types.Entry     // trees[0] is the empty tree at revision 0
}

// Store is an in-memory storage.Store. The zero value is not usable;
// construct with New.
type Store struct {
	mu    sync.RWMutex
	repos map[storage.RepoKey]*repoState
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{repos: make(map[storage.RepoKey]*repoState)}
}

func (s *Store) CreateRepository(_ context.Context, repo storage.RepoKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[repo]; ok {
		return apierr.New(apierr.RepositoryExists, "repository %s/%s already exists", repo.Project, repo.Repo)
	}
	s.repos[repo] = &repoState{trees: []map[string]*types.Entry{{}}}
	return nil
}

func (s *Store) Head(_ context.Context, repo storage.RepoKey) (types.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.repos[repo]
	if !ok {
		return 0, apierr.New(apierr.RepositoryNotFound, "repository %s/%s does not exist", repo.Project, repo.Repo)
	}
	return types.Revision(len(st.commits)), nil
}

func (s *Store) AppendCommit(_ context.Context, repo storage.RepoKey, commit types.Commit, tree map[string]*types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.repos[repo]
	if !ok {
		return apierr.New(apierr.RepositoryNotFound, "repository %s/%s does not exist", repo.Project, repo.Repo)
	}
	head := types.Revision(len(st.commits))
	if commit.Revision != head+1 {
		return apierr.New(apierr.ChangeConflict, "commit revision %d is not head+1 (head=%d)", commit.Revision, head)
	}
	st.commits = append(st.commits, commit)
	st.trees = append(st.trees, copyTree(tree))
	return nil
}

func (s *Store) GetCommit(_ context.Context, repo storage.RepoKey, rev types.Revision) (*types.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.repos[repo]
	if !ok {
		return nil, apierr.New(apierr.RepositoryNotFound, "repository %s/%s does not exist", repo.Project, repo.Repo)
	}
	if rev < 1 || int(rev) > len(st.commits) {
		return nil, apierr.New(apierr.RevisionNotFound, "revision %d does not exist", rev)
	}
	c := st.commits[rev-1]
	return &c, nil
}

func (s *Store) ListCommits(_ context.Context, repo storage.RepoKey, fromExclusive, toInclusive types.Revision) ([]types.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.repos[repo]
	if !ok {
		return nil, apierr.New(apierr.RepositoryNotFound, "repository %s/%s does not exist", repo.Project, repo.Repo)
	}
	if toInclusive < 0 || int(toInclusive) > len(st.commits) || fromExclusive < 0 || fromExclusive > toInclusive {
		return nil, apierr.New(apierr.RevisionNotFound, "invalid revision range (%d, %d]", fromExclusive, toInclusive)
	}
	out := make([]types.Commit, 0, int(toInclusive-fromExclusive))
	for r := fromExclusive + 1; r <= toInclusive; r++ {
		out = append(out, st.commits[r-1])
	}
	return out, nil
}

func (s *Store) TreeAt(_ context.Context, repo storage.RepoKey, rev types.Revision) (map[string]*types.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.repos[repo]
	if !ok {
		return nil, apierr.New(apierr.RepositoryNotFound, "repository %s/%s does not exist", repo.Project, repo.Repo)
	}
	if rev < 0 || int(rev) >= len(st.trees) {
		return nil, apierr.New(apierr.RevisionNotFound, "revision %d does not exist", rev)
	}
	return copyTree(st.trees[rev]), nil
}

func copyTree(tree map[string]*types.Entry) map[string]*types.Entry {
	out := make(map[string]*types.Entry, len(tree))
	for k, v := range tree {
		cp := *v
		out[k] = &cp
	}
	return out
}
