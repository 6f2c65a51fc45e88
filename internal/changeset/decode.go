package changeset

import (
	"strings"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/types"
)

// EntryTypeForPath classifies a path by extension: ".json" is JSON,
// ".yaml"/".yml" is JSON-with-YAMLTag (same tree representation, YAML
// on the wire), anything else is TEXT.
func EntryTypeForPath(path string) (t types.EntryType, yamlTag bool) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".json"):
		return types.EntryJSON, false
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return types.EntryJSON, true
	default:
		return types.EntryText, false
	}
}

// Decode normalizes a user-supplied Change against tree (the working
// tree at the commit's base revision) into one or more tree Effects.
// Patches are resolved into equivalent upserts/removes here; renames
// become a remove of the old path and an upsert of the new one. The
// original Change (with its original tag) is what the caller persists
// to the commit log — Decode only computes the resulting tree state.
func Decode(tree Tree, ch types.Change) ([]Effect, error) {
	switch ch.Type {
	case types.ChangeUpsertText:
		if err := types.ValidatePath(ch.Path); err != nil {
			return nil, err
		}
		return []Effect{{Path: ch.Path, Type: types.EntryText, Content: ch.Text}}, nil

	case types.ChangeUpsertJSON:
		if err := types.ValidatePath(ch.Path); err != nil {
			return nil, err
		}
		_, extYAML := EntryTypeForPath(ch.Path)
		content, isYAML, err := resolveJSONContent(ch.JSON)
		if err != nil {
			return nil, err
		}
		return []Effect{{Path: ch.Path, Type: types.EntryJSON, Content: content, YAMLTag: extYAML || isYAML}}, nil

	case types.ChangeApplyTextPatch:
		cur, ok := tree.Get(ch.Path)
		if !ok || cur.Type != types.EntryText {
			return nil, apierr.New(apierr.ChangeConflict, "cannot apply text patch: %q does not exist as text", ch.Path)
		}
		baseText, _ := cur.Content.(string)
		newText, err := ApplyTextPatch(baseText, ch.Text)
		if err != nil {
			return nil, err
		}
		return []Effect{{Path: ch.Path, Type: types.EntryText, Content: newText}}, nil

	case types.ChangeApplyJSONPatch:
		cur, ok := tree.Get(ch.Path)
		if !ok || cur.Type != types.EntryJSON {
			return nil, apierr.New(apierr.ChangeConflict, "cannot apply JSON patch: %q does not exist as JSON", ch.Path)
		}
		newTree, err := ApplyJSONPatch(cur.Content, ch.JSON)
		if err != nil {
			return nil, err
		}
		return []Effect{{Path: ch.Path, Type: types.EntryJSON, Content: newTree, YAMLTag: cur.YAMLTag}}, nil

	case types.ChangeRemove:
		if _, ok := tree.Get(ch.Path); !ok {
			return nil, apierr.New(apierr.ChangeConflict, "cannot remove %q: does not exist", ch.Path)
		}
		return []Effect{{Path: ch.Path, Remove: true}}, nil

	case types.ChangeRename:
		cur, ok := tree.Get(ch.OldPath)
		if !ok {
			return nil, apierr.New(apierr.ChangeConflict, "cannot rename %q: does not exist", ch.OldPath)
		}
		if err := types.ValidatePath(ch.NewPath); err != nil {
			return nil, err
		}
		if _, exists := tree.Get(ch.NewPath); exists {
			return nil, apierr.New(apierr.ChangeConflict, "cannot rename to %q: already exists", ch.NewPath)
		}
		return []Effect{
			{Path: ch.OldPath, Remove: true},
			{Path: ch.NewPath, Type: cur.Type, Content: cur.Content, YAMLTag: cur.YAMLTag},
		}, nil

	default:
		return nil, apierr.New(apierr.ChangeFormat, "unknown change type: %q", ch.Type)
	}
}

// resolveJSONContent accepts either an already-parsed tree (map/slice/
// scalar, as produced by decoding our own wire JSON) or a raw string
// that must itself parse as JSON, or as YAML yielding something other
// than a bare string scalar.
func resolveJSONContent(content interface{}) (interface{}, bool, error) {
	if s, ok := content.(string); ok {
		tree, isYAML, err := ParseJSONOrYAML([]byte(s))
		if err != nil {
			return nil, false, err
		}
		if _, scalar := tree.(string); scalar && isYAML {
			return nil, false, apierr.New(apierr.ChangeFormat, "JSON upsert content is neither a JSON document nor a structured YAML document")
		}
		return tree, isYAML, nil
	}
	if content == nil {
		return nil, false, apierr.New(apierr.ChangeFormat, "JSON upsert content is empty")
	}
	return content, false, nil
}
