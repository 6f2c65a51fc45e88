// Package changeset implements the ChangeCodec: decoding a user-supplied
// Change into one or more normalized tree effects, applying JSON/text
// patches, and canonicalizing JSON content to deterministic bytes.
package changeset

import (
	"bytes"
	"encoding/json"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/types"
	"gopkg.in/yaml.v3"
)

// Tree is the minimal baseline lookup the codec needs from whatever
// revision a Change is being decoded against. RepositoryEngine supplies
// it backed by the working tree at a given revision.
type Tree interface {
	Get(path string) (*types.Entry, bool)
}

// Effect is one normalized tree mutation: either an upsert of content at
// Path, or a removal of Path. Patches and renames decode into one or two
// Effects while the original Change (with its original tag) is what the
// commit log stores.
type Effect struct {
	Path    string
	Remove  bool
	Type    types.EntryType
	Content interface{} // canonical tree for JSON/YAML, raw string for TEXT
	YAMLTag bool
}

// IsTextLike reports whether an entry type's content is compared/stored
// as opaque text rather than a parsed tree.
func IsTextLike(t types.EntryType) bool { return t == types.EntryText }

// canonicalJSONBytes serializes a parsed JSON tree deterministically.
// encoding/json sorts map[string]interface{} keys alphabetically, which
// is what gives us the round-trip/idempotence guarantee the spec asks
// for ("canonicalize to strict JSON bytes").
func canonicalJSONBytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ParseJSONOrYAML accepts raw bytes that are either strict/JSON-5-ish
// JSON or YAML and returns the generic tree plus whether it was YAML.
// JSON is tried first since valid JSON is (almost always) valid YAML
// and we want the more specific/faster parser to win.
func ParseJSONOrYAML(raw []byte) (interface{}, bool, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, false, nil
	}
	if err := yaml.Unmarshal(raw, &v); err == nil {
		return normalizeYAML(v), true, nil
	}
	return nil, false, apierr.New(apierr.ChangeFormat, "content is neither valid JSON nor YAML")
}

// normalizeYAML walks a yaml.v3-decoded tree and converts any
// map[interface{}]interface{} (which yaml.v3 avoids for string keys but
// can still produce for non-scalar or non-string keys) into
// map[string]interface{} so the rest of the engine only ever sees the
// same shape encoding/json produces.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[toStringKey(k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

func toStringKey(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	b, err := json.Marshal(k)
	if err != nil {
		return ""
	}
	return string(b)
}

// ContentEqual reports whether two JSON/YAML trees serialize to the
// same canonical bytes, used to detect no-op changes.
func ContentEqual(a, b interface{}) bool {
	ab, aerr := canonicalJSONBytes(a)
	bb, berr := canonicalJSONBytes(b)
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
