package changeset

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tidwall/gjson"

	"github.com/line/centraldogma-sub005/internal/apierr"
)

// opTestAbsence is the extension op this spec adds on top of RFC 6902:
// it fails the patch if the JSON pointer in "path" resolves to anything
// in the document.
const opTestAbsence = "test-absence"

// rawOp mirrors one element of a JSON Patch document, loosely enough to
// let us peel off test-absence entries before handing the rest to
// evanphx/json-patch, which only knows the six RFC 6902 ops.
type rawOp struct {
	Op   string          `json:"op"`
	Path string          `json:"path"`
	Raw  json.RawMessage `json:"-"`
}

// ApplyJSONPatch applies patchDoc (a JSON Patch array, already decoded
// into a generic tree by the caller) to base and returns the resulting
// tree. patchDoc must decode to a JSON array of operation objects.
func ApplyJSONPatch(base interface{}, patchDoc interface{}) (interface{}, error) {
	baseBytes, err := canonicalJSONBytes(base)
	if err != nil {
		return nil, apierr.Wrap(apierr.ChangeFormat, err, "base document is not valid JSON")
	}
	patchBytes, err := json.Marshal(patchDoc)
	if err != nil {
		return nil, apierr.Wrap(apierr.ChangeFormat, err, "patch document is not valid JSON")
	}

	var ops []json.RawMessage
	if err := json.Unmarshal(patchBytes, &ops); err != nil {
		return nil, apierr.Wrap(apierr.ChangeFormat, err, "patch document is not a JSON array")
	}

	var rfc6902 []json.RawMessage
	for _, raw := range ops {
		var op rawOp
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, apierr.Wrap(apierr.ChangeFormat, err, "malformed patch operation")
		}
		if op.Op == opTestAbsence {
			if gjson.GetBytes(baseBytes, pointerToGJSONPath(op.Path)).Exists() {
				return nil, apierr.New(apierr.ChangeConflict, "test-absence failed: %q exists", op.Path)
			}
			continue
		}
		rfc6902 = append(rfc6902, raw)
	}

	if len(rfc6902) == 0 {
		// Nothing left to apply (patch was entirely test-absence guards);
		// the document is unchanged.
		var out interface{}
		if err := json.Unmarshal(baseBytes, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	rfcBytes, err := json.Marshal(rfc6902)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.DecodePatch(rfcBytes)
	if err != nil {
		return nil, apierr.Wrap(apierr.ChangeFormat, err, "malformed JSON patch")
	}

	result, err := patch.ApplyWithOptions(baseBytes, jsonpatch.NewApplyOptions())
	if err != nil {
		return nil, apierr.Wrap(apierr.ChangeConflict, err, "JSON patch did not apply cleanly")
	}

	var out interface{}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// pointerToGJSONPath converts an RFC 6901 JSON Pointer ("/a/b/0") into
// the dotted path syntax gjson expects ("a.b.0"). Pointer escapes ~1
// ("/") and ~0 ("~") are unescaped first.
func pointerToGJSONPath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return "@this"
	}
	p := pointer
	if p[0] == '/' {
		p = p[1:]
	}
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		switch {
		case p[i] == '~' && i+1 < len(p) && p[i+1] == '1':
			out = append(out, '/')
			i++
		case p[i] == '~' && i+1 < len(p) && p[i+1] == '0':
			out = append(out, '~')
			i++
		case p[i] == '/':
			out = append(out, '.')
		default:
			out = append(out, p[i])
		}
	}
	return string(out)
}
