// Package query implements the QueryEngine: evaluating identity,
// text-view, JSON, JSON-path and JSON-5/YAML-as-JSON queries against an
// entry's content. Queries are pure functions of (entry, query): same
// inputs always yield byte-identical outputs.
package query

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/changeset"
	"github.com/line/centraldogma-sub005/internal/types"
)

// Kind selects which of the four query variants to run.
type Kind string

const (
	KindIdentity Kind = "identity"
	KindText     Kind = "text"
	KindJSON     Kind = "json"
	KindJSONPath Kind = "jsonpath"
)

// Query is a single QueryEngine request against one entry's content.
type Query struct {
	Kind        Kind
	Expressions []string // JSON-path steps, only used when Kind == KindJSONPath
}

// Identity returns the identity query.
func Identity() Query { return Query{Kind: KindIdentity} }

// OfText returns the text-view query.
func OfText() Query { return Query{Kind: KindText} }

// OfJSON returns the JSON-tree query.
func OfJSON() Query { return Query{Kind: KindJSON} }

// OfJSONPath returns a JSON-path query applying expr in order.
func OfJSONPath(expr ...string) Query { return Query{Kind: KindJSONPath, Expressions: expr} }

// Evaluate runs q against entry and returns the resulting entry. entry
// is never mutated.
func Evaluate(entry *types.Entry, q Query) (*types.Entry, error) {
	if entry == nil {
		return nil, apierr.New(apierr.EntryNotFound, "query target does not exist")
	}
	switch q.Kind {
	case KindIdentity, "":
		cp := *entry
		return &cp, nil
	case KindText:
		return asText(entry)
	case KindJSON:
		return asJSON(entry)
	case KindJSONPath:
		return applyJSONPath(entry, q.Expressions)
	default:
		return nil, apierr.New(apierr.QueryExecution, "unknown query kind: %q", q.Kind)
	}
}

func asText(entry *types.Entry) (*types.Entry, error) {
	if entry.Type == types.EntryDirectory {
		return nil, apierr.New(apierr.QueryExecution, "cannot render a directory as text")
	}
	if entry.Type == types.EntryText {
		cp := *entry
		return &cp, nil
	}
	text, err := serializeTree(entry.Content, entry.YAMLTag)
	if err != nil {
		return nil, err
	}
	return &types.Entry{Revision: entry.Revision, Path: entry.Path, Type: types.EntryText, Content: text}, nil
}

func asJSON(entry *types.Entry) (*types.Entry, error) {
	if entry.Type == types.EntryDirectory {
		return nil, apierr.New(apierr.QueryExecution, "cannot render a directory as JSON")
	}
	if entry.Type == types.EntryJSON {
		cp := *entry
		return &cp, nil
	}
	text, _ := entry.Content.(string)
	tree, yamlTag, err := changeset.ParseJSONOrYAML([]byte(text))
	if err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "%q is not valid JSON or YAML", entry.Path)
	}
	return &types.Entry{Revision: entry.Revision, Path: entry.Path, Type: types.EntryJSON, Content: tree, YAMLTag: yamlTag}, nil
}

// applyJSONPath walks entry's content through each expression in turn,
// feeding the previous step's result into the next.
func applyJSONPath(entry *types.Entry, exprs []string) (*types.Entry, error) {
	jsonEntry, err := asJSON(entry)
	if err != nil {
		return nil, err
	}
	out, err := EvaluateJSONPathOnTree(jsonEntry.Content, exprs, entry.Path)
	if err != nil {
		return nil, err
	}
	return &types.Entry{Revision: entry.Revision, Path: entry.Path, Type: types.EntryJSON, Content: out}, nil
}

// EvaluateJSONPathOnTree applies exprs in sequence to an already-decoded
// JSON tree, independent of any Entry. label is used only for error
// messages (typically the source path). Shared by the QueryEngine and
// the MergeEngine's post-merge json-path step.
func EvaluateJSONPathOnTree(tree interface{}, exprs []string, label string) (interface{}, error) {
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "cannot marshal %q", label)
	}

	for _, expr := range exprs {
		result := gjson.GetBytes(raw, expr)
		if !result.Exists() {
			return nil, apierr.New(apierr.QueryExecution, "json-path %q did not match anything in %q", expr, label)
		}
		raw = []byte(result.Raw)
	}

	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apierr.Wrap(apierr.QueryExecution, err, "json-path result is not valid JSON")
	}
	return out, nil
}

// ToJSON converts entry to its JSON-tree form, decoding TEXT content as
// JSON or YAML as needed. Exported for use by the MergeEngine.
func ToJSON(entry *types.Entry) (*types.Entry, error) { return asJSON(entry) }

// SerializeTree renders a parsed JSON/YAML tree back to text, choosing
// YAML or canonical JSON output based on yamlTag. Exported for the
// MergeEngine, which must render its merged tree the same way.
func SerializeTree(tree interface{}, yamlTag bool) (string, error) { return serializeTree(tree, yamlTag) }

func serializeTree(tree interface{}, yamlTag bool) (string, error) {
	if yamlTag {
		var sb strings.Builder
		enc := yaml.NewEncoder(&sb)
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return "", apierr.Wrap(apierr.QueryExecution, err, "cannot render as YAML")
		}
		_ = enc.Close()
		return sb.String(), nil
	}
	b, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return "", apierr.Wrap(apierr.QueryExecution, err, "cannot render as JSON")
	}
	return string(b) + "\n", nil
}
