package content_test

import (
	"context"
	"testing"
	"time"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/content"
	"github.com/line/centraldogma-sub005/internal/query"
	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/storage/memory"
	"github.com/line/centraldogma-sub005/internal/types"
	"github.com/line/centraldogma-sub005/internal/watch"
)

func newService(t *testing.T) (*content.Service, storage.RepoKey) {
	t.Helper()
	st := memory.New()
	bootstrap := storage.New(st, nil, nil)
	wm := watch.New(bootstrap)
	eng := storage.New(st, nil, wm)
	repo := storage.RepoKey{Project: "p", Repo: "r"}
	if err := eng.CreateRepository(context.Background(), repo); err != nil {
		t.Fatalf("create repository: %v", err)
	}
	svc := content.New(eng, wm)
	svc.DefaultTimeout = 2 * time.Second
	return svc, repo
}

func TestPushRejectsDogmaRepository(t *testing.T) {
	svc, _ := newService(t)
	dogma := storage.RepoKey{Project: "p", Repo: types.ReservedRepoDogma}
	_, err := svc.Push(context.Background(), dogma, types.HeadRevision, "alice", "s", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/x.txt", Text: "hi"},
	})
	if apierr.KindOf(err) != apierr.InvalidPush {
		t.Fatalf("expected invalid-push, got %v", err)
	}
}

func TestPushThenGetFile(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	rev, err := svc.Push(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertJSON, Path: "/a.json", JSON: map[string]interface{}{"x": 1}},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	entry, err := svc.GetFile(ctx, repo, rev, "/a.json", query.Identity())
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if entry.Type != types.EntryJSON {
		t.Fatalf("expected JSON entry, got %v", entry.Type)
	}
}

func TestWatchRepositoryImmediateWakeup(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	first, err := svc.Push(ctx, repo, types.HeadRevision, "alice", "init", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/test/test3.json", Text: "[1,2]"},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	// A caller that captured `first` as its baseline must wake up
	// immediately once a later commit moves the head past it, rather
	// than waiting out the full timeout.
	rev, err := svc.Push(ctx, repo, types.HeadRevision, "alice", "update", "", []types.Change{
		{Type: types.ChangeUpsertText, Path: "/test/test3.json", Text: "[3,4]"},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := svc.WatchRepository(ctx, repo, first, "/**", time.Second, false)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if got == nil || *got != rev {
		t.Fatalf("expected immediate wakeup at %d, got %v", rev, got)
	}
}

func TestWatchRepositoryTimeoutResolvesNil(t *testing.T) {
	svc, repo := newService(t)
	got, err := svc.WatchRepository(context.Background(), repo, types.HeadRevision, "/nope/**", 30*time.Millisecond, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on timeout, got %v", *got)
	}
}

func TestWatchRepositoryErrorOnMissing(t *testing.T) {
	svc, repo := newService(t)
	_, err := svc.WatchRepository(context.Background(), repo, types.HeadRevision, "/nope/**", time.Second, true)
	if apierr.KindOf(err) != apierr.EntryNotFound {
		t.Fatalf("expected entry-not-found, got %v", err)
	}
}
