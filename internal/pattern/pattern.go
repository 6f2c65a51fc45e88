// Package pattern compiles and evaluates the path-pattern globs used to
// scope find/diff/watch operations: "?" for a single non-slash rune,
// "*" for a run of non-slash runes, "**" for a run including slashes,
// and comma-separated unions of the above.
package pattern

import (
	"strings"
)

// Matcher evaluates a compiled path pattern against absolute paths.
type Matcher struct {
	unions []*unionTerm
	raw    string
}

type unionTerm struct {
	segments []segment
}

type segment struct {
	// literal is matched verbatim when kind == segKindLiteral.
	literal string
	kind    segKind
}

type segKind int

const (
	segKindLiteral segKind = iota
	segKindAny          // "?"
	segKindStar         // "*"
	segKindGlobstar     // "**"
)

// Compile parses a pattern (or comma-separated union of patterns) once.
// An empty pattern compiles to a Matcher that matches nothing.
func Compile(raw string) *Matcher {
	m := &Matcher{raw: raw}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, "/") {
			part = "/" + part
		}
		m.unions = append(m.unions, &unionTerm{segments: compileSegments(part)})
	}
	return m
}

// compileSegments turns a single rooted pattern into a rune-level
// segment list. Unlike a path-segment split on "/", "**" and "*" are
// parsed at the rune level so "/a*b/**" behaves correctly.
func compileSegments(p string) []segment {
	var segs []segment
	runes := []rune(p)
	i := 0
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{kind: segKindLiteral, literal: lit.String()})
			lit.Reset()
		}
	}
	for i < len(runes) {
		switch runes[i] {
		case '*':
			flushLit()
			if i+1 < len(runes) && runes[i+1] == '*' {
				segs = append(segs, segment{kind: segKindGlobstar})
				i += 2
			} else {
				segs = append(segs, segment{kind: segKindStar})
				i++
			}
		case '?':
			flushLit()
			segs = append(segs, segment{kind: segKindAny})
			i++
		default:
			lit.WriteRune(runes[i])
			i++
		}
	}
	flushLit()
	return segs
}

// String returns the original source pattern.
func (m *Matcher) String() string { return m.raw }

// Empty reports whether the pattern compiles to "matches nothing".
func (m *Matcher) Empty() bool { return m == nil || len(m.unions) == 0 }

// MatchAll returns a Matcher equivalent to "/**".
func MatchAll() *Matcher { return Compile("/**") }

// Match reports whether path matches the compiled pattern. path must be
// an absolute, normalized POSIX-style path.
func (m *Matcher) Match(path string) bool {
	if m.Empty() {
		return false
	}
	for _, u := range m.unions {
		if matchSegments(u.segments, []rune(path)) {
			return true
		}
	}
	return false
}

// matchSegments runs a small backtracking matcher over the rune-level
// segment list. Complexity is O(|path|*|pattern|) in the worst case
// because a globstar can only retry at each remaining position once.
func matchSegments(segs []segment, path []rune) bool {
	return matchFrom(segs, 0, path, 0)
}

func matchFrom(segs []segment, si int, path []rune, pi int) bool {
	for si < len(segs) {
		seg := segs[si]
		switch seg.kind {
		case segKindLiteral:
			lit := []rune(seg.literal)
			if pi+len(lit) > len(path) {
				return false
			}
			for k, r := range lit {
				if path[pi+k] != r {
					return false
				}
			}
			pi += len(lit)
			si++
		case segKindAny:
			if pi >= len(path) || path[pi] == '/' {
				return false
			}
			pi++
			si++
		case segKindStar:
			// Greedy then backtrack: consume the longest non-"/" run
			// possible and retry shorter prefixes until the rest matches.
			end := pi
			for end < len(path) && path[end] != '/' {
				end++
			}
			for cut := end; cut >= pi; cut-- {
				if matchFrom(segs, si+1, path, cut) {
					return true
				}
			}
			return false
		case segKindGlobstar:
			for cut := len(path); cut >= pi; cut-- {
				if matchFrom(segs, si+1, path, cut) {
					return true
				}
			}
			return false
		}
	}
	return pi == len(path)
}
