package serverstatus_test

import (
	"testing"
	"time"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/serverstatus"
	"github.com/line/centraldogma-sub005/internal/storage"
)

func TestCheckWritableGatesOnState(t *testing.T) {
	s := serverstatus.New()
	repo := storage.RepoKey{Project: "p", Repo: "r"}
	if err := s.CheckWritable(repo); err != nil {
		t.Fatalf("expected writable by default, got %v", err)
	}
	if err := s.Transition(serverstatus.ReadOnly, serverstatus.ScopeLocal); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.CheckWritable(repo); apierr.KindOf(err) != apierr.ReadOnly {
		t.Fatalf("expected read-only, got %v", err)
	}
}

type countingHook struct{ n int }

func (h *countingHook) Shutdown() { h.n++ }

func TestTransitionAwayFromWritableFiresShutdownHooks(t *testing.T) {
	s := serverstatus.New()
	h := &countingHook{}
	s.RegisterShutdownHook(h)

	if err := s.Transition(serverstatus.ReplicationOnly, serverstatus.ScopeAll); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if h.n != 1 {
		t.Fatalf("expected shutdown hook to fire once, fired %d times", h.n)
	}

	// A further transition between two non-writable states must not
	// re-fire the hook; only leaving Writable does.
	if err := s.Transition(serverstatus.ReadOnly, serverstatus.ScopeAll); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if h.n != 1 {
		t.Fatalf("expected hook to still have fired once, fired %d times", h.n)
	}
}

func TestStopRespectsGraceWindow(t *testing.T) {
	s := serverstatus.New()
	s.GraceWindow = 50 * time.Millisecond
	start := time.Now()
	s.Stop()
	if time.Since(start) > time.Second {
		t.Fatalf("Stop took too long")
	}
	if s.Current() != serverstatus.ReadOnly {
		t.Fatalf("expected ReadOnly after Stop, got %v", s.Current())
	}
}
