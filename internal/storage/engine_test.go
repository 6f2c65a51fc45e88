package storage_test

import (
	"context"
	"testing"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/query"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/storage/memory"
	"github.com/line/centraldogma-sub005/internal/types"
)

func newEngine(t *testing.T) (*storage.Engine, storage.RepoKey) {
	t.Helper()
	st := memory.New()
	eng := storage.New(st, nil, nil)
	repo := storage.RepoKey{Project: "p", Repo: "r"}
	if err := eng.CreateRepository(context.Background(), repo); err != nil {
		t.Fatalf("create repository: %v", err)
	}
	return eng, repo
}

func TestCommitBasic(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	rev, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != 1 {
		t.Fatalf("expected revision 1, got %d", rev)
	}
	entry, err := eng.GetEntry(ctx, repo, types.HeadRevision, "/a.txt")
	if err != nil || entry == nil || entry.Content != "hello" {
		t.Fatalf("unexpected entry: %+v, err %v", entry, err)
	}
}

func TestCommitRedundantChange(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	change := []types.Change{{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "hello"}}
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", change); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "again", "", change)
	if apierr.KindOf(err) != apierr.RedundantChange {
		t.Fatalf("expected redundant-change, got %v", err)
	}
}

func TestCommitRemoveMissingIsConflict(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	_, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "rm", "", []types.Change{
		{Type: types.ChangeRemove, Path: "/missing.txt"},
	})
	if apierr.KindOf(err) != apierr.ChangeConflict {
		t.Fatalf("expected change-conflict, got %v", err)
	}
}

func TestCommitRebaseAgreesWithHead(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "v1"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// base=1 (== head), touches a different path: no rebase conflict.
	rev, err := eng.Commit(ctx, repo, types.Revision(1), "bob", "second", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/b.txt", Text: "v1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != 2 {
		t.Fatalf("expected revision 2, got %d", rev)
	}
}

func TestCommitRebaseConflictOnSamePath(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "v1"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second writer started from revision 1 too, but a third writer got
	// there first and changed /a.txt again before this commit lands.
	if _, err := eng.Commit(ctx, repo, types.Revision(1), "carol", "race-winner", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "v2"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := eng.Commit(ctx, repo, types.Revision(1), "bob", "race-loser", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "v3"},
	})
	if apierr.KindOf(err) != apierr.ChangeConflict {
		t.Fatalf("expected change-conflict, got %v", err)
	}
}

func TestFindWithDirectories(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a/b/c.txt", Text: "x"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results, err := eng.Find(ctx, repo, types.HeadRevision, "/a/**")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sawDir, sawFile bool
	for _, r := range results {
		if r.Path == "/a/b" && r.Entry.Type == types.EntryDirectory {
			sawDir = true
		}
		if r.Path == "/a/b/c.txt" {
			sawFile = true
		}
	}
	if !sawDir || !sawFile {
		t.Fatalf("expected both directory and file entries, got %+v", results)
	}
}

func TestDiffBetweenRevisions(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "v1"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "update", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "v2"},
		{Type: types.ChangeUpsertText, Path: "/b.txt", Text: "new"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changes, err := eng.Diff(ctx, repo, types.Revision(1), types.Revision(2), "/**")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	if changes[0].Path != "/a.txt" || changes[1].Path != "/b.txt" {
		t.Fatalf("expected ascending path order, got %+v", changes)
	}
}

func TestPreviewDiffDoesNotMutate(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "v1"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changes, err := eng.PreviewDiff(ctx, repo, types.HeadRevision, []types.Change{
		{Type: types.ChangeUpsertText, Path: "/a.txt", Text: "v2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 || changes[0].Text != "v2" {
		t.Fatalf("unexpected preview: %+v", changes)
	}
	head, _ := eng.Head(ctx, repo)
	if head != 1 {
		t.Fatalf("preview must not mutate head, got %d", head)
	}
}

func TestGetFileRunsQuery(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertJSON, Path: "/a.json", JSON: `{"x":1}`},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, err := eng.GetFile(ctx, repo, types.HeadRevision, "/a.json", query.OfJSONPath("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Content.(float64) != 1 {
		t.Fatalf("unexpected result: %v", entry.Content)
	}
}

func TestMergeThroughEngine(t *testing.T) {
	eng, repo := newEngine(t)
	ctx := context.Background()
	if _, err := eng.Commit(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertJSON, Path: "/a.json", JSON: `{"x":1}`},
		{Type: types.ChangeUpsertJSON, Path: "/b.json", JSON: `{"y":2}`},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := eng.Merge(ctx, repo, types.HeadRevision, []storage.MergeSource{{Path: "/a.json"}, {Path: "/b.json"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.Content.(map[string]interface{})
	if m["x"].(float64) != 1 || m["y"].(float64) != 2 {
		t.Fatalf("unexpected merge result: %+v", m)
	}
}
