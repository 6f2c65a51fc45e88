package changeset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/line/centraldogma-sub005/internal/apierr"
)

// hunk is one "@@ -l,s +l,s @@" block of a unified diff.
type hunk struct {
	oldStart int
	oldLines []string // context ' ' and removed '-' lines, prefix stripped
	newLines []string // context ' ' and added '+' lines, prefix stripped
}

// ApplyTextPatch applies a unified diff (as produced by "diff -u") to
// baseText and returns the patched text.
// Application is strict: every context and removed line in the patch
// must match the corresponding line of baseText exactly, at the
// position the patch claims, or the patch is rejected as a conflict.
func ApplyTextPatch(baseText, patchText string) (string, error) {
	hunks, err := parseUnifiedDiff(patchText)
	if err != nil {
		return "", err
	}
	baseLines := splitLinesKeepTrailing(baseText)

	var out []string
	cursor := 0 // 0-based index into baseLines already consumed
	for _, h := range hunks {
		start := h.oldStart - 1
		if start < cursor {
			return "", apierr.New(apierr.ChangeConflict, "patch hunks overlap or are out of order")
		}
		if start > len(baseLines) {
			return "", apierr.New(apierr.ChangeConflict, "patch hunk starts past end of file")
		}
		// Copy unmodified lines between the previous hunk and this one.
		out = append(out, baseLines[cursor:start]...)
		cursor = start

		for _, oldLine := range h.oldLines {
			if cursor >= len(baseLines) || baseLines[cursor] != oldLine {
				return "", apierr.New(apierr.ChangeConflict, "patch does not apply cleanly at line %d", cursor+1)
			}
			cursor++
		}
		out = append(out, h.newLines...)
	}
	out = append(out, baseLines[cursor:]...)
	return strings.Join(out, ""), nil
}

// splitLinesKeepTrailing splits text into lines, keeping the trailing
// newline attached to each line (so re-joining with "" round-trips
// exactly), including a possibly-unterminated final line.
func splitLinesKeepTrailing(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// parseUnifiedDiff parses the hunks out of a unified diff body. The
// "--- a/..." / "+++ b/..." file header lines, if present, are ignored;
// only "@@ ... @@" hunk headers and their +/-/space-prefixed bodies are
// significant to application.
func parseUnifiedDiff(patch string) ([]hunk, error) {
	lines := strings.Split(patch, "\n")
	var hunks []hunk
	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			i++
			continue
		case strings.HasPrefix(line, "@@"):
			h, next, err := parseHunk(lines, i)
			if err != nil {
				return nil, err
			}
			hunks = append(hunks, h)
			i = next
		case line == "":
			i++
		default:
			return nil, apierr.New(apierr.ChangeFormat, "unexpected line in unified diff: %q", line)
		}
	}
	if len(hunks) == 0 {
		return nil, apierr.New(apierr.ChangeFormat, "unified diff contains no hunks")
	}
	return hunks, nil
}

func parseHunk(lines []string, i int) (hunk, int, error) {
	header := lines[i]
	oldStart, _, err := parseHunkRange(header, '-')
	if err != nil {
		return hunk{}, 0, err
	}
	h := hunk{oldStart: oldStart}
	i++
	for i < len(lines) {
		line := lines[i]
		if line == "" || strings.HasPrefix(line, "@@") || strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			break
		}
		if len(line) == 0 {
			i++
			continue
		}
		body := line[1:] + "\n"
		switch line[0] {
		case ' ':
			h.oldLines = append(h.oldLines, body)
			h.newLines = append(h.newLines, body)
		case '-':
			h.oldLines = append(h.oldLines, body)
		case '+':
			h.newLines = append(h.newLines, body)
		case '\\':
			// "\ No newline at end of file" marker: strip the trailing
			// newline we just appended to the previous line, if any.
			stripTrailingNewline(&h)
		default:
			return hunk{}, 0, apierr.New(apierr.ChangeFormat, "malformed hunk body line: %q", line)
		}
		i++
	}
	return h, i, nil
}

func stripTrailingNewline(h *hunk) {
	if n := len(h.newLines); n > 0 {
		h.newLines[n-1] = strings.TrimSuffix(h.newLines[n-1], "\n")
	} else if n := len(h.oldLines); n > 0 {
		h.oldLines[n-1] = strings.TrimSuffix(h.oldLines[n-1], "\n")
	}
}

// parseHunkRange extracts the start line of the old ('-') or new ('+')
// range from a "@@ -l,s +l,s @@" header.
func parseHunkRange(header string, side byte) (int, int, error) {
	fields := strings.Fields(header)
	for _, f := range fields {
		if len(f) < 2 || f[0] != side {
			continue
		}
		spec := f[1:]
		parts := strings.SplitN(spec, ",", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, apierr.New(apierr.ChangeFormat, "malformed hunk header: %q", header)
		}
		count := 1
		if len(parts) == 2 {
			count, err = strconv.Atoi(parts[1])
			if err != nil {
				return 0, 0, apierr.New(apierr.ChangeFormat, "malformed hunk header: %q", header)
			}
		}
		return start, count, nil
	}
	return 0, 0, fmt.Errorf("no %c range in hunk header: %q", side, header)
}
