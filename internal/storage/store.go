// Package storage defines the durable-store interface RepositoryEngine
// is built on, plus the RepositoryEngine itself: the storage core that
// implements head/normalize/getEntry/getFile/find/diff/previewDiff/
// commit/merge against whichever Store backend is configured.
package storage

import (
	"context"

	"github.com/line/centraldogma-sub005/internal/types"
)

// RepoKey identifies a repository uniquely across the whole server.
type RepoKey struct {
	Project string
	Repo    string
}

// Store is the durability collaborator RepositoryEngine drives. A Store
// implementation only needs to persist commits and reconstructed tree
// snapshots; all validation, rebase, conflict and no-op detection lives
// in RepositoryEngine so every backend shares identical semantics.
type Store interface {
	// CreateRepository registers repo with an empty tree at revision 0.
	// Returns apierr.RepositoryExists if it already exists.
	CreateRepository(ctx context.Context, repo RepoKey) error

	// Head returns the current head revision for repo.
	Head(ctx context.Context, repo RepoKey) (types.Revision, error)

	// AppendCommit persists commit and the full resulting working tree
	// atomically. commit.Revision must equal the store's current head+1;
	// implementations return apierr.ChangeConflict otherwise (a racing
	// writer already claimed that revision).
	AppendCommit(ctx context.Context, repo RepoKey, commit types.Commit, tree map[string]*types.Entry) error

	// GetCommit returns the commit at an absolute revision.
	GetCommit(ctx context.Context, repo RepoKey, rev types.Revision) (*types.Commit, error)

	// ListCommits returns commits with fromExclusive < revision <=
	// toInclusive, ordered by ascending revision.
	ListCommits(ctx context.Context, repo RepoKey, fromExclusive, toInclusive types.Revision) ([]types.Commit, error)

	// TreeAt returns the full working tree as it existed immediately
	// after the commit at rev (rev == 0 is the empty initial tree).
	TreeAt(ctx context.Context, repo RepoKey, rev types.Revision) (map[string]*types.Entry, error)
}
