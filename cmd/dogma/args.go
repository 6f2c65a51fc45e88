package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/line/centraldogma-sub005/internal/storage"
	"github.com/line/centraldogma-sub005/internal/types"
)

// parseRepo splits a "project/repo" argument into its RepoKey, the shape
// every content-facing subcommand below accepts as its repository
// positional argument.
func parseRepo(s string) (storage.RepoKey, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return storage.RepoKey{}, fmt.Errorf("expected <project>/<repo>, got %q", s)
	}
	return storage.RepoKey{Project: parts[0], Repo: parts[1]}, nil
}

// parseRevision accepts the empty string (meaning head), "head", or a
// signed integer, matching the HTTP layer's revisionParam.
func parseRevision(s string) (types.Revision, error) {
	if s == "" || strings.EqualFold(s, "head") {
		return types.HeadRevision, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid revision %q: %w", s, err)
	}
	return types.Revision(n), nil
}
