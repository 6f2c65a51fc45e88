// Package sqlite implements storage.Store durably, one SQLite database
// per server instance, using the pure-Go ncruces/go-sqlite3 driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gofrs/flock"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	project TEXT NOT NULL,
	name TEXT NOT NULL,
	head INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project, name)
);

CREATE TABLE IF NOT EXISTS commits (
	project TEXT NOT NULL,
	repo TEXT NOT NULL,
	revision INTEGER NOT NULL,
	parent_revision INTEGER NOT NULL,
	author TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	summary TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	changes TEXT NOT NULL,
	PRIMARY KEY (project, repo, revision)
);

CREATE TABLE IF NOT EXISTS tree_snapshots (
	project TEXT NOT NULL,
	repo TEXT NOT NULL,
	revision INTEGER NOT NULL,
	tree TEXT NOT NULL,
	PRIMARY KEY (project, repo, revision)
);
`

// Store is a durable storage.Store backed by a single SQLite database
// file. A process-wide flock guards the database path against a second
// server process opening the same file.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open opens (creating if necessary) the SQLite database at dbPath and
// runs the schema migration. The caller must call Close when done.
func Open(dbPath string) (*Store, error) {
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring storage lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another server process is already using %s", dbPath)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db, lock: lock}, nil
}

// Close releases the database handle and the process-wide lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

func (s *Store) CreateRepository(ctx context.Context, repo storage.RepoKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (project, name, head) VALUES (?, ?, 0)`, repo.Project, repo.Repo)
	if err != nil {
		return apierr.New(apierr.RepositoryExists, "repository %s/%s already exists", repo.Project, repo.Repo)
	}
	tree, _ := json.Marshal(map[string]*types.Entry{})
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tree_snapshots (project, repo, revision, tree) VALUES (?, ?, 0, ?)`,
		repo.Project, repo.Repo, string(tree))
	return err
}

func (s *Store) Head(ctx context.Context, repo storage.RepoKey) (types.Revision, error) {
	var head int64
	err := s.db.QueryRowContext(ctx,
		`SELECT head FROM repositories WHERE project = ? AND name = ?`, repo.Project, repo.Repo).Scan(&head)
	if err == sql.ErrNoRows {
		return 0, apierr.New(apierr.RepositoryNotFound, "repository %s/%s does not exist", repo.Project, repo.Repo)
	}
	if err != nil {
		return 0, err
	}
	return types.Revision(head), nil
}

func (s *Store) AppendCommit(ctx context.Context, repo storage.RepoKey, commit types.Commit, tree map[string]*types.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var head int64
	if err := tx.QueryRowContext(ctx,
		`SELECT head FROM repositories WHERE project = ? AND name = ?`, repo.Project, repo.Repo).Scan(&head); err != nil {
		if err == sql.ErrNoRows {
			return apierr.New(apierr.RepositoryNotFound, "repository %s/%s does not exist", repo.Project, repo.Repo)
		}
		return err
	}
	if int64(commit.Revision) != head+1 {
		return apierr.New(apierr.ChangeConflict, "commit revision %d is not head+1 (head=%d)", commit.Revision, head)
	}

	changesJSON, err := json.Marshal(commit.Changes)
	if err != nil {
		return err
	}
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commits (project, repo, revision, parent_revision, author, timestamp, summary, detail, changes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.Project, repo.Repo, commit.Revision, commit.ParentRevision, commit.Author,
		commit.Timestamp.UTC().Format(time.RFC3339Nano), commit.Summary, commit.Detail, string(changesJSON),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tree_snapshots (project, repo, revision, tree) VALUES (?, ?, ?, ?)`,
		repo.Project, repo.Repo, commit.Revision, string(treeJSON)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE repositories SET head = ? WHERE project = ? AND name = ?`,
		commit.Revision, repo.Project, repo.Repo); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetCommit(ctx context.Context, repo storage.RepoKey, rev types.Revision) (*types.Commit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT revision, parent_revision, author, timestamp, summary, detail, changes
		 FROM commits WHERE project = ? AND repo = ? AND revision = ?`,
		repo.Project, repo.Repo, rev)
	return scanCommit(row)
}

func (s *Store) ListCommits(ctx context.Context, repo storage.RepoKey, fromExclusive, toInclusive types.Revision) ([]types.Commit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT revision, parent_revision, author, timestamp, summary, detail, changes
		 FROM commits WHERE project = ? AND repo = ? AND revision > ? AND revision <= ?
		 ORDER BY revision ASC`,
		repo.Project, repo.Repo, fromExclusive, toInclusive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) TreeAt(ctx context.Context, repo storage.RepoKey, rev types.Revision) (map[string]*types.Entry, error) {
	var treeJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT tree FROM tree_snapshots WHERE project = ? AND repo = ? AND revision = ?`,
		repo.Project, repo.Repo, rev).Scan(&treeJSON)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.RevisionNotFound, "revision %d does not exist", rev)
	}
	if err != nil {
		return nil, err
	}
	var tree map[string]*types.Entry
	if err := json.Unmarshal([]byte(treeJSON), &tree); err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "corrupt tree snapshot at revision %d", rev)
	}
	return tree, nil
}

// rowScanner abstracts sql.Row and sql.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCommit(row rowScanner) (*types.Commit, error) {
	var c types.Commit
	var timestamp, changesJSON string
	if err := row.Scan(&c.Revision, &c.ParentRevision, &c.Author, &timestamp, &c.Summary, &c.Detail, &changesJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.New(apierr.RevisionNotFound, "revision does not exist")
		}
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "corrupt commit timestamp")
	}
	c.Timestamp = ts
	if err := json.Unmarshal([]byte(changesJSON), &c.Changes); err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "corrupt commit changes")
	}
	return &c, nil
}
