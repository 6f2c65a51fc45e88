// Package metadata implements the MetadataService: projects,
// repositories, members, tokens, certificates and roles, all stored as
// two reserved JSON documents — a per-project "/metadata.json" and a
// global "/tokens.json" — inside the reserved "dogma" repository of
// the reserved "dogma" project. Every mutation is an ordinary
// RepositoryEngine commit: documents are created with a JSON upsert and
// changed afterwards with an RFC-6902 JSON patch, guarded by
// test-absence preconditions where an entry must not yet exist, so optimistic
// concurrency falls out of the repository's own commit serialization
// instead of a separate locking scheme.
package metadata

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/types"
)

// internalProject is the reserved project whose "dogma" repository
// holds every administrative document.
const internalProject = "dogma"

// Role is a repository-level permission. Ordering matters: roles
// compare with Rank, never with equality, since effective role is a
// maximum over several sources.
type Role string

const (
	RoleNone  Role = "NONE"
	RoleRead  Role = "READ"
	RoleWrite Role = "WRITE"
	RoleAdmin Role = "ADMIN"
)

// Rank orders roles NONE < READ < WRITE < ADMIN.
func (r Role) Rank() int {
	switch r {
	case RoleRead:
		return 1
	case RoleWrite:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

func maxRole(a, b Role) Role {
	if a.Rank() > b.Rank() {
		return a
	}
	return b
}

// ProjectRole is a principal's membership level within a project.
type ProjectRole string

const (
	ProjectOwner  ProjectRole = "OWNER"
	ProjectMember ProjectRole = "MEMBER"
	ProjectGuest  ProjectRole = "GUEST"
)

// Member is one user's project-level membership.
type Member struct {
	UserID  string      `json:"userId"`
	Role    ProjectRole `json:"role"`
	AddedBy string      `json:"addedBy"`
	AddedAt time.Time   `json:"addedAt"`
}

// Token is an opaque application credential, always prefixed
// "appToken-". A token with a non-nil Deletion is purge-eligible.
type Token struct {
	AppID            string     `json:"appId"`
	Secret           string     `json:"secret"`
	IsSystemAdmin    bool       `json:"isSystemAdmin"`
	AllowGuestAccess bool       `json:"allowGuestAccess"`
	Creation         time.Time  `json:"creation"`
	Deactivation     *time.Time `json:"deactivation,omitempty"`
	Deletion         *time.Time `json:"deletion,omitempty"`
}

// ProjectRoleMap maps the two implicit project roles (everyone who is
// a MEMBER, everyone who is a GUEST) onto a repository role.
type ProjectRoleMap struct {
	Member *Role `json:"member,omitempty"`
	Guest  *Role `json:"guest,omitempty"`
}

func (m ProjectRoleMap) roleFor(pr ProjectRole) Role {
	switch pr {
	case ProjectMember:
		if m.Member != nil {
			return *m.Member
		}
	case ProjectGuest:
		if m.Guest != nil {
			return *m.Guest
		}
	}
	return RoleNone
}

// RepoRoles is the per-repository role grant table.
type RepoRoles struct {
	ProjectRoles ProjectRoleMap  `json:"projectRoles"`
	Users        map[string]Role `json:"users,omitempty"`
	Tokens       map[string]Role `json:"tokens,omitempty"`
}

// RepositoryMetadata is one repository's administrative row within a
// project's metadata document.
type RepositoryMetadata struct {
	Name     string                `json:"name"`
	Roles    RepoRoles             `json:"roles"`
	Creation types.UserAndTimestamp `json:"creation"`
	Removal  *types.UserAndTimestamp `json:"removal,omitempty"`
	Status   types.RepositoryStatus `json:"status"`
}

// ProjectMetadata is the full "/metadata.json" document for one project.
type ProjectMetadata struct {
	Name     string                         `json:"name"`
	Members  map[string]Member              `json:"members"`
	Repos    map[string]RepositoryMetadata  `json:"repos"`
	Creation types.UserAndTimestamp          `json:"creation"`
	Removal  *types.UserAndTimestamp         `json:"removal,omitempty"`
}

// tokensDocument is the full "/tokens.json" document, keyed two ways
// for O(1) lookup by either appId or secret.
type tokensDocument struct {
	AppIDs  map[string]*Token `json:"appIds"`
	Secrets map[string]string `json:"secrets"` // secret -> appId
}

// Principal identifies the caller an effective role is computed for:
// exactly one of UserID or TokenAppID is set.
type Principal struct {
	UserID        string
	TokenAppID    string
	IsSystemAdmin bool
}

// Service is the MetadataService. It owns no state of its own beyond
// the reconciliation single-flight group; all durable state lives in
// the RepositoryEngine.
type Service struct {
	eng  *storage.Engine
	repo storage.RepoKey
	sf   singleflight.Group
}

// New builds a Service over eng. Bootstrap must be called once, after
// construction, before any other method.
func New(eng *storage.Engine) *Service {
	return &Service{eng: eng, repo: storage.RepoKey{Project: internalProject, Repo: types.ReservedRepoDogma}}
}

// Bootstrap ensures the internal project's dogma repository and the
// global tokens document exist. Safe to call on every server start.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.eng.CreateRepository(ctx, s.repo); err != nil && apierr.KindOf(err) != apierr.RepositoryExists {
		return err
	}
	return s.ensureDocument(ctx, tokensPath(), tokensDocument{AppIDs: map[string]*Token{}, Secrets: map[string]string{}}, "bootstrap tokens.json")
}

func metadataPath(project string) string { return fmt.Sprintf("/%s/metadata.json", project) }
func tokensPath() string                 { return "/tokens.json" }

// ensureDocument creates path with empty if it does not already exist.
// A racing second creator observes RedundantChange (identical content)
// or ChangeConflict (different content already there, e.g. another
// process's own template) and both are treated as "already exists".
func (s *Service) ensureDocument(ctx context.Context, path string, empty interface{}, summary string) error {
	existing, err := s.eng.GetEntry(ctx, s.repo, types.HeadRevision, path)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = s.eng.Commit(ctx, s.repo, types.HeadRevision, "metadata-service", summary, "", []types.Change{
		{Type: types.ChangeUpsertJSON, Path: path, JSON: empty},
	})
	if err != nil && apierr.KindOf(err) != apierr.RedundantChange && apierr.KindOf(err) != apierr.ChangeConflict {
		return err
	}
	return nil
}

// patchOp is one RFC 6902 operation, plus the test-absence extension.
type patchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

func testAbsence(path string) patchOp     { return patchOp{Op: "test-absence", Path: path} }
func testEquality(path string, v interface{}) patchOp {
	return patchOp{Op: "test", Path: path, Value: v}
}
func addOp(path string, v interface{}) patchOp     { return patchOp{Op: "add", Path: path, Value: v} }
func replaceOp(path string, v interface{}) patchOp { return patchOp{Op: "replace", Path: path, Value: v} }
func removeOp(path string) patchOp                 { return patchOp{Op: "remove", Path: path} }

// commitPatch decodes doc from the entry at path, hands it to build
// for inspection (to raise domain errors against the current state
// before any patch is attempted), applies the returned ops as a single
// APPLY_JSON_PATCH change, and returns the new head.
func (s *Service) commitPatch(ctx context.Context, path, author, summary string, build func(raw json.RawMessage) ([]patchOp, error)) (types.Revision, error) {
	entry, err := s.eng.GetEntry(ctx, s.repo, types.HeadRevision, path)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, apierr.New(apierr.EntryNotFound, "document %q does not exist", path)
	}
	raw, err := json.Marshal(entry.Content)
	if err != nil {
		return 0, err
	}
	ops, err := build(raw)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, apierr.New(apierr.RedundantChange, "no change to %q", path)
	}
	return s.eng.Commit(ctx, s.repo, types.HeadRevision, author, summary, "", []types.Change{
		{Type: types.ChangeApplyJSONPatch, Path: path, JSON: ops},
	})
}

// GetProjectMetadata fetches a project's metadata document. It returns
// ProjectNotFound when the project has no document; it does not create one.
func (s *Service) GetProjectMetadata(ctx context.Context, project string) (*ProjectMetadata, error) {
	path := metadataPath(project)
	entry, err := s.eng.GetEntry(ctx, s.repo, types.HeadRevision, path)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apierr.New(apierr.ProjectNotFound, "project %q does not exist", project)
	}
	raw, err := json.Marshal(entry.Content)
	if err != nil {
		return nil, err
	}
	var pm ProjectMetadata
	if err := json.Unmarshal(raw, &pm); err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "corrupt metadata document for %q", project)
	}
	return &pm, nil
}

// CreateProject registers a brand-new project's metadata document.
func (s *Service) CreateProject(ctx context.Context, project, author string) error {
	path := metadataPath(project)
	existing, err := s.eng.GetEntry(ctx, s.repo, types.HeadRevision, path)
	if err != nil {
		return err
	}
	if existing != nil {
		return apierr.New(apierr.ProjectExists, "project %q already exists", project)
	}
	now := time.Now().UTC()
	pm := ProjectMetadata{
		Name:     project,
		Members:  map[string]Member{},
		Repos:    map[string]RepositoryMetadata{},
		Creation: types.UserAndTimestamp{User: author, When: now},
	}
	_, err = s.eng.Commit(ctx, s.repo, types.HeadRevision, author, fmt.Sprintf("Create project %q", project), "", []types.Change{
		{Type: types.ChangeUpsertJSON, Path: path, JSON: pm},
	})
	return err
}

// RemoveProject marks a project removed without deleting its document.
func (s *Service) RemoveProject(ctx context.Context, project, author string) error {
	path := metadataPath(project)
	_, err := s.commitPatch(ctx, path, author, fmt.Sprintf("Remove project %q", project), func(raw json.RawMessage) ([]patchOp, error) {
		var pm ProjectMetadata
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil, err
		}
		if pm.Removal != nil {
			return nil, apierr.New(apierr.RedundantChange, "project %q is already removed", project)
		}
		return []patchOp{
			testAbsence("/removal"),
			addOp("/removal", types.UserAndTimestamp{User: author, When: time.Now().UTC()}),
		}, nil
	})
	return err
}

// RestoreProject clears a project's removal marker.
func (s *Service) RestoreProject(ctx context.Context, project, author string) error {
	path := metadataPath(project)
	_, err := s.commitPatch(ctx, path, author, fmt.Sprintf("Restore project %q", project), func(raw json.RawMessage) ([]patchOp, error) {
		var pm ProjectMetadata
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil, err
		}
		if pm.Removal == nil {
			return nil, apierr.New(apierr.RedundantChange, "project %q is not removed", project)
		}
		return []patchOp{removeOp("/removal")}, nil
	})
	return err
}

// AddMember grants project-level membership to userID.
func (s *Service) AddMember(ctx context.Context, project, userID string, role ProjectRole, addedBy string) error {
	path := metadataPath(project)
	_, err := s.commitPatch(ctx, path, addedBy, fmt.Sprintf("Add member %q to %q", userID, project), func(raw json.RawMessage) ([]patchOp, error) {
		member := Member{UserID: userID, Role: role, AddedBy: addedBy, AddedAt: time.Now().UTC()}
		return []patchOp{
			testAbsence("/members/" + userID),
			addOp("/members/"+userID, member),
		}, nil
	})
	return err
}

// RemoveMember revokes userID's project-level membership.
func (s *Service) RemoveMember(ctx context.Context, project, userID, by string) error {
	path := metadataPath(project)
	_, err := s.commitPatch(ctx, path, by, fmt.Sprintf("Remove member %q from %q", userID, project), func(raw json.RawMessage) ([]patchOp, error) {
		var pm ProjectMetadata
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil, err
		}
		if _, ok := pm.Members[userID]; !ok {
			return nil, apierr.New(apierr.MemberNotFound, "member %q not found in %q", userID, project)
		}
		return []patchOp{removeOp("/members/" + userID)}, nil
	})
	return err
}

// ReconcileRepositoryRow adds a metadata row for a repository that
// already exists in the RepositoryEngine but has no administrative
// row yet. Guarded by a single-flight group keyed by project/repo so
// concurrent readers racing to reconcile the same repository collapse
// into one commit attempt; a losing racer's test-absence failure is
// treated as success, mirroring the spec's "existing-row races yield
// repository-exists, which the caller treats as success."
func (s *Service) ReconcileRepositoryRow(ctx context.Context, project, repoName, author string) error {
	key := project + "/" + repoName
	_, err, _ := s.sf.Do(key, func() (interface{}, error) {
		path := metadataPath(project)
		_, err := s.commitPatch(ctx, path, author, fmt.Sprintf("Reconcile repository row %q/%q", project, repoName), func(raw json.RawMessage) ([]patchOp, error) {
			var pm ProjectMetadata
			if err := json.Unmarshal(raw, &pm); err != nil {
				return nil, err
			}
			if _, ok := pm.Repos[repoName]; ok {
				return nil, apierr.New(apierr.RedundantChange, "row already present")
			}
			row := RepositoryMetadata{
				Name:     repoName,
				Creation: types.UserAndTimestamp{User: author, When: time.Now().UTC()},
				Status:   types.RepositoryActive,
			}
			return []patchOp{
				testAbsence("/repos/" + repoName),
				addOp("/repos/"+repoName, row),
			}, nil
		})
		if apierr.KindOf(err) == apierr.ChangeConflict || apierr.KindOf(err) == apierr.RedundantChange {
			return nil, nil
		}
		return nil, err
	})
	return err
}

// RemoveRepositoryRow marks a repository's metadata row removed.
func (s *Service) RemoveRepositoryRow(ctx context.Context, project, repoName, author string) error {
	path := metadataPath(project)
	_, err := s.commitPatch(ctx, path, author, fmt.Sprintf("Remove repository row %q/%q", project, repoName), func(raw json.RawMessage) ([]patchOp, error) {
		var pm ProjectMetadata
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil, err
		}
		row, ok := pm.Repos[repoName]
		if !ok {
			return nil, apierr.New(apierr.RepositoryNotFound, "repository %q/%q not found", project, repoName)
		}
		if row.Removal != nil {
			return nil, apierr.New(apierr.RedundantChange, "repository row already removed")
		}
		return []patchOp{
			addOp(fmt.Sprintf("/repos/%s/removal", repoName), types.UserAndTimestamp{User: author, When: time.Now().UTC()}),
		}, nil
	})
	return err
}

// RestoreRepositoryRow clears a repository row's removal marker.
func (s *Service) RestoreRepositoryRow(ctx context.Context, project, repoName, author string) error {
	path := metadataPath(project)
	_, err := s.commitPatch(ctx, path, author, fmt.Sprintf("Restore repository row %q/%q", project, repoName), func(raw json.RawMessage) ([]patchOp, error) {
		var pm ProjectMetadata
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil, err
		}
		row, ok := pm.Repos[repoName]
		if !ok {
			return nil, apierr.New(apierr.RepositoryNotFound, "repository %q/%q not found", project, repoName)
		}
		if row.Removal == nil {
			return nil, apierr.New(apierr.RedundantChange, "repository row is not removed")
		}
		return []patchOp{removeOp(fmt.Sprintf("/repos/%s/removal", repoName))}, nil
	})
	return err
}

// CreateToken mints a new token with a random 128-bit secret.
func (s *Service) CreateToken(ctx context.Context, appID string, isSystemAdmin, allowGuestAccess bool, by string) (*Token, error) {
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	tok := &Token{
		AppID:            appID,
		Secret:           secret,
		IsSystemAdmin:    isSystemAdmin,
		AllowGuestAccess: allowGuestAccess,
		Creation:         time.Now().UTC(),
	}
	path := tokensPath()
	_, err = s.commitPatch(ctx, path, by, fmt.Sprintf("Create token %q", appID), func(raw json.RawMessage) ([]patchOp, error) {
		return []patchOp{
			testAbsence("/appIds/" + appID),
			addOp("/appIds/"+appID, tok),
			addOp("/secrets/"+tok.Secret, appID),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", apierr.Wrap(apierr.QueryExecution, err, "generating token secret")
	}
	return "appToken-" + hex.EncodeToString(buf), nil
}

// DeactivateToken disables a token without deleting it.
func (s *Service) DeactivateToken(ctx context.Context, appID, by string) error {
	return s.mutateToken(ctx, appID, by, fmt.Sprintf("Deactivate token %q", appID), func(t *Token) ([]patchOp, error) {
		if t.Deactivation != nil {
			return nil, apierr.New(apierr.RedundantChange, "token %q already deactivated", appID)
		}
		now := time.Now().UTC()
		return []patchOp{addOp(fmt.Sprintf("/appIds/%s/deactivation", appID), now)}, nil
	})
}

// DestroyToken soft-deletes a token, marking it purge-eligible.
func (s *Service) DestroyToken(ctx context.Context, appID, by string) error {
	return s.mutateToken(ctx, appID, by, fmt.Sprintf("Destroy token %q", appID), func(t *Token) ([]patchOp, error) {
		if t.Deletion != nil {
			return nil, apierr.New(apierr.RedundantChange, "token %q already destroyed", appID)
		}
		now := time.Now().UTC()
		return []patchOp{addOp(fmt.Sprintf("/appIds/%s/deletion", appID), now)}, nil
	})
}

// PurgeToken physically removes a destroyed token from both indexes.
func (s *Service) PurgeToken(ctx context.Context, appID, by string) error {
	path := tokensPath()
	_, err := s.commitPatch(ctx, path, by, fmt.Sprintf("Purge token %q", appID), func(raw json.RawMessage) ([]patchOp, error) {
		var doc tokensDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		t, ok := doc.AppIDs[appID]
		if !ok {
			return nil, apierr.New(apierr.TokenNotFound, "token %q not found", appID)
		}
		if t.Deletion == nil {
			return nil, apierr.New(apierr.InvalidPush, "token %q is not destroyed; cannot purge", appID)
		}
		return []patchOp{
			removeOp("/appIds/" + appID),
			removeOp("/secrets/" + t.Secret),
		}, nil
	})
	return err
}

func (s *Service) mutateToken(ctx context.Context, appID, by, summary string, build func(*Token) ([]patchOp, error)) error {
	path := tokensPath()
	_, err := s.commitPatch(ctx, path, by, summary, func(raw json.RawMessage) ([]patchOp, error) {
		var doc tokensDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		t, ok := doc.AppIDs[appID]
		if !ok {
			return nil, apierr.New(apierr.TokenNotFound, "token %q not found", appID)
		}
		return build(t)
	})
	return err
}

// LookupTokenBySecret resolves a bearer secret to its token, failing
// token-not-found for an unknown, purged, or destroyed-and-purged
// secret. A legacy token (no explicit allowGuestAccess stored on the
// document — i.e. the field's zero value was never actually written
// by this service) is treated as allowGuestAccess=true for backward
// compatibility with documents from before this field existed;
// CreateToken always writes it explicitly, so newly created tokens
// never take this path.
func (s *Service) LookupTokenBySecret(ctx context.Context, secret string) (*Token, error) {
	entry, err := s.eng.GetEntry(ctx, s.repo, types.HeadRevision, tokensPath())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apierr.New(apierr.TokenNotFound, "token store not initialized")
	}
	raw, err := json.Marshal(entry.Content)
	if err != nil {
		return nil, err
	}
	var doc tokensDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "corrupt tokens document")
	}
	appID, ok := doc.Secrets[secret]
	if !ok {
		return nil, apierr.New(apierr.TokenNotFound, "unknown token secret")
	}
	t, ok := doc.AppIDs[appID]
	if !ok || t.Deletion != nil {
		return nil, apierr.New(apierr.TokenNotFound, "unknown token secret")
	}
	var fields struct {
		AppIDs map[string]map[string]json.RawMessage `json:"appIds"`
	}
	if err := json.Unmarshal(raw, &fields); err == nil {
		if _, set := fields.AppIDs[appID]["allowGuestAccess"]; !set {
			t.AllowGuestAccess = true
		}
	}
	return t, nil
}

// EffectiveRole computes p's effective role on a repository, per the
// rule: system admins are always ADMIN; a project OWNER is ADMIN on
// every repository in their project; otherwise the role is the
// maximum of whatever is granted to the principal directly and
// whatever their project role maps to.
//
// Open question resolved here (the spec does not say whether a token
// principal has its own "project role"): a token is never itself a
// project member, so it only ever inherits the GUEST mapping, and only
// when its AllowGuestAccess flag is set.
func (s *Service) EffectiveRole(ctx context.Context, project, repoName string, p Principal) (Role, error) {
	if p.IsSystemAdmin {
		return RoleAdmin, nil
	}
	pm, err := s.GetProjectMetadata(ctx, project)
	if err != nil {
		return RoleNone, err
	}
	row, ok := pm.Repos[repoName]
	if !ok {
		return RoleNone, apierr.New(apierr.RepositoryNotFound, "repository %q/%q not found", project, repoName)
	}

	if p.TokenAppID != "" {
		tok, err := s.tokenByAppID(ctx, p.TokenAppID)
		if err != nil {
			return RoleNone, err
		}
		if tok.IsSystemAdmin {
			return RoleAdmin, nil
		}
		direct := row.Roles.Tokens[p.TokenAppID]
		guestMapped := RoleNone
		if tok.AllowGuestAccess {
			guestMapped = row.Roles.ProjectRoles.roleFor(ProjectGuest)
		}
		return maxRole(direct, guestMapped), nil
	}

	member, isMember := pm.Members[p.UserID]
	projectRole := ProjectGuest
	if isMember {
		projectRole = member.Role
	}
	if projectRole == ProjectOwner {
		return RoleAdmin, nil
	}
	direct := row.Roles.Users[p.UserID]
	mapped := row.Roles.ProjectRoles.roleFor(projectRole)
	return maxRole(direct, mapped), nil
}

func (s *Service) tokenByAppID(ctx context.Context, appID string) (*Token, error) {
	entry, err := s.eng.GetEntry(ctx, s.repo, types.HeadRevision, tokensPath())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apierr.New(apierr.TokenNotFound, "token store not initialized")
	}
	raw, err := json.Marshal(entry.Content)
	if err != nil {
		return nil, err
	}
	var doc tokensDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "corrupt tokens document")
	}
	t, ok := doc.AppIDs[appID]
	if !ok {
		return nil, apierr.New(apierr.TokenNotFound, "token %q not found", appID)
	}
	return t, nil
}
