// Package merge implements the MergeEngine: combining an ordered list of
// JSON/YAML sources into a single document by deep, left-to-right,
// last-wins merge, with an optional json-path post-processing step.
package merge

import (
	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/query"
	"github.com/line/centraldogma-sub005/internal/types"
)

// Source is one requested merge input: a path, whether it is optional,
// and the entry RepositoryEngine resolved it to (nil if not found).
type Source struct {
	Path     string
	Optional bool
	Entry    *types.Entry
}

// Result is the outcome of a merge: the merged tree, the output entry
// type/YAML-tag family, and the paths that actually contributed.
type Result struct {
	Content  interface{}
	YAMLTag  bool
	Sources  []string
	Revision types.Revision
}

// Merge combines sources per the spec: a missing required source fails
// entry-not-found; missing optional sources are skipped; if nothing
// contributes (even if every source was optional), the merge still
// fails entry-not-found. jsonpath, if non-empty, is applied to the
// merged document as a final step, same semantics as QueryEngine's
// ofJsonPath.
func Merge(sources []Source, jsonpath []string) (*Result, error) {
	var trees []interface{}
	var yamlFamily []bool
	var contributing []string
	var rev types.Revision

	for _, src := range sources {
		if src.Entry == nil {
			if src.Optional {
				continue
			}
			return nil, apierr.New(apierr.EntryNotFound, "required merge source %q does not exist", src.Path)
		}
		jsonEntry, err := query.ToJSON(src.Entry)
		if err != nil {
			return nil, err
		}
		trees = append(trees, jsonEntry.Content)
		yamlFamily = append(yamlFamily, jsonEntry.YAMLTag)
		contributing = append(contributing, src.Path)
		rev = src.Entry.Revision
	}

	if len(trees) == 0 {
		return nil, apierr.New(apierr.EntryNotFound, "none of the requested merge sources exist")
	}

	merged := trees[0]
	for _, t := range trees[1:] {
		var err error
		merged, err = deepMerge(merged, t)
		if err != nil {
			return nil, err
		}
	}

	// Output family: YAML only if every contributing source was YAML;
	// a single JSON source downgrades the whole merge to JSON.
	allYAML := true
	for _, y := range yamlFamily {
		if !y {
			allYAML = false
			break
		}
	}

	if len(jsonpath) > 0 {
		out, err := query.EvaluateJSONPathOnTree(merged, jsonpath, "merged document")
		if err != nil {
			return nil, err
		}
		merged = out
	}

	return &Result{Content: merged, YAMLTag: allYAML, Sources: contributing, Revision: rev}, nil
}

// deepMerge combines b into a left-to-right: objects merge key by key
// recursively, arrays and scalars are replaced wholesale by b, and
// mixing an object with a non-object at the same key is a failure.
func deepMerge(a, b interface{}) (interface{}, error) {
	am, aIsObj := a.(map[string]interface{})
	bm, bIsObj := b.(map[string]interface{})

	if !aIsObj && !bIsObj {
		return b, nil
	}
	if aIsObj != bIsObj {
		return nil, apierr.New(apierr.QueryExecution, "mismatched value: cannot merge object with non-object")
	}

	out := make(map[string]interface{}, len(am)+len(bm))
	for k, v := range am {
		out[k] = v
	}
	for k, v := range bm {
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		merged, err := deepMerge(existing, v)
		if err != nil {
			return nil, apierr.Wrap(apierr.QueryExecution, err, "mismatched value at %q", k)
		}
		out[k] = merged
	}
	return out, nil
}

// RenderEntry converts a merge Result into the Entry the wire API
// returns, rendering the merged tree as JSON or YAML text depending on
// the resolved output family. Callers that want the parsed tree use
// Result.Content directly.
func RenderEntry(path string, res *Result) (*types.Entry, error) {
	text, err := query.SerializeTree(res.Content, res.YAMLTag)
	if err != nil {
		return nil, err
	}
	return &types.Entry{
		Revision: res.Revision,
		Path:     path,
		Type:     types.EntryText,
		Content:  text,
		YAMLTag:  res.YAMLTag,
	}, nil
}
