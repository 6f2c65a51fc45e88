package types

import (
	"strings"

	"github.com/line/centraldogma-sub005/internal/apierr"
)

const maxPathLength = 4096
const maxSegmentLength = 255

// ValidatePath checks the structural rules an Entry path must satisfy:
// absolute, no ".." segments, no empty segments, and within the length
// limits. It does not check whether the path actually exists.
func ValidatePath(path string) error {
	if path == "" || path[0] != '/' {
		return apierr.New(apierr.InvalidPush, "path must be absolute: %q", path)
	}
	if len(path) > maxPathLength {
		return apierr.New(apierr.InvalidPush, "path exceeds %d characters: %q", maxPathLength, path)
	}
	segments := strings.Split(path, "/")[1:]
	if len(segments) == 0 {
		return apierr.New(apierr.InvalidPush, "path has no segments: %q", path)
	}
	for _, seg := range segments {
		if seg == "" {
			return apierr.New(apierr.InvalidPush, "path contains an empty segment: %q", path)
		}
		if seg == ".." || seg == "." {
			return apierr.New(apierr.InvalidPush, "path contains a %q segment: %q", seg, path)
		}
		if len(seg) > maxSegmentLength {
			return apierr.New(apierr.InvalidPush, "path segment exceeds %d characters: %q", maxSegmentLength, seg)
		}
	}
	return nil
}

// ValidateProjectName checks the alphanumeric + "-_" 1-64 char rule
// shared by project and repository names.
func ValidateProjectName(name string) error {
	if len(name) == 0 || len(name) > 64 {
		return apierr.New(apierr.InvalidPush, "name must be 1-64 characters: %q", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return apierr.New(apierr.InvalidPush, "name must be alphanumeric, '-' or '_': %q", name)
		}
	}
	return nil
}
