// Package types holds the domain model shared by every component of the
// configuration repository engine: projects, repositories, revisions,
// entries, changes and commits.
package types

import "time"

// EntryType is the kind of content an Entry carries.
type EntryType string

const (
	EntryJSON      EntryType = "JSON"
	EntryText      EntryType = "TEXT"
	EntryDirectory EntryType = "DIRECTORY"
)

// ChangeType tags the kind of operation a Change represents.
type ChangeType string

const (
	ChangeUpsertText    ChangeType = "UPSERT_TEXT"
	ChangeUpsertJSON    ChangeType = "UPSERT_JSON"
	ChangeApplyTextPatch ChangeType = "APPLY_TEXT_PATCH"
	ChangeApplyJSONPatch ChangeType = "APPLY_JSON_PATCH"
	ChangeRemove        ChangeType = "REMOVE"
	ChangeRename        ChangeType = "RENAME"
)

// RepositoryStatus is the lifecycle state of a Repository.
type RepositoryStatus string

const (
	RepositoryActive   RepositoryStatus = "ACTIVE"
	RepositoryReadOnly RepositoryStatus = "READ_ONLY"
)

// Reserved repository names. Every project has both: dogma holds the
// administrative JSON documents the MetadataService reads and writes;
// meta is the user-facing administrative repository.
const (
	ReservedRepoDogma = "dogma"
	ReservedRepoMeta  = "meta"
)

// UserAndTimestamp records who did something and when. It is used for
// creation markers and soft-deletion ("removal") markers alike, per the
// Design Notes preference for explicit fields over ambient flags.
type UserAndTimestamp struct {
	User string    `json:"user"`
	When time.Time `json:"when"`
}

// Project is a named collection of repositories.
type Project struct {
	Name    string            `json:"name"`
	Author  *UserAndTimestamp `json:"creation"`
	Removal *UserAndTimestamp `json:"removal,omitempty"`
}

// IsRemoved reports whether the project carries a removal marker.
func (p *Project) IsRemoved() bool { return p != nil && p.Removal != nil }

// Repository is a named, versioned tree of Entries within a Project.
type Repository struct {
	Project string            `json:"project"`
	Name    string            `json:"name"`
	Head    Revision          `json:"head"`
	Status  RepositoryStatus  `json:"status"`
	Author  *UserAndTimestamp `json:"creation"`
	Removal *UserAndTimestamp `json:"removal,omitempty"`
}

// IsRemoved reports whether the repository carries a removal marker.
func (r *Repository) IsRemoved() bool { return r != nil && r.Removal != nil }

// IsReserved reports whether name is one of the two reserved repository names.
func IsReserved(name string) bool {
	return name == ReservedRepoDogma || name == ReservedRepoMeta
}

// Revision identifies a commit. Positive values are absolute (1 is the
// initial commit); non-positive values are relative to HEAD, with 0 and
// -1 both meaning HEAD. Normalization is implemented in the storage
// package, which is the only place that knows the current head.
type Revision int64

// HeadRevision is the canonical alias for "the current head".
const HeadRevision Revision = -1

// IsRelative reports whether r must be resolved against a head value
// before it identifies an absolute commit.
func (r Revision) IsRelative() bool { return r <= 0 }

// Entry is a single file (or synthetic directory) as it exists at a
// specific revision.
type Entry struct {
	Revision Revision    `json:"revision"`
	Path     string      `json:"path"`
	Type     EntryType   `json:"type"`
	Content  interface{} `json:"content,omitempty"`
	// YAMLTag is true when the source bytes were YAML; QueryEngine
	// and MergeEngine consult it when deciding the output family.
	YAMLTag bool `json:"-"`
}

// Change is a single file-level operation inside a Commit. Exactly one
// of the payload fields is populated, selected by Type.
type Change struct {
	Type ChangeType `json:"type"`

	Path    string      `json:"path,omitempty"`    // UPSERT_*, APPLY_*_PATCH, REMOVE
	OldPath string      `json:"oldPath,omitempty"`  // RENAME
	NewPath string      `json:"newPath,omitempty"`  // RENAME
	Text    string      `json:"text,omitempty"`     // UPSERT_TEXT, APPLY_TEXT_PATCH (unified diff)
	JSON    interface{} `json:"content,omitempty"`  // UPSERT_JSON, APPLY_JSON_PATCH (patch document)
}

// Commit is an atomic, numbered application of Changes to a repository.
type Commit struct {
	Revision       Revision  `json:"revision"`
	ParentRevision Revision  `json:"parentRevision"`
	Author         string    `json:"author"`
	Timestamp      time.Time `json:"timestamp"`
	Summary        string    `json:"summary"`
	Detail         string    `json:"detail,omitempty"`
	Changes        []Change  `json:"changes"`
}

// TouchedPaths returns every path a commit's changes affect, for
// WatchManager pattern matching. A rename touches both endpoints.
func (c *Commit) TouchedPaths() []string {
	paths := make([]string, 0, len(c.Changes)*2)
	for _, ch := range c.Changes {
		switch ch.Type {
		case ChangeRename:
			paths = append(paths, ch.OldPath, ch.NewPath)
		default:
			paths = append(paths, ch.Path)
		}
	}
	return paths
}
