package merge

import (
	"testing"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/types"
)

func jsonEntry(path string, content interface{}) *types.Entry {
	return &types.Entry{Path: path, Type: types.EntryJSON, Content: content}
}

func TestMergeDeepLastWins(t *testing.T) {
	a := jsonEntry("/a.json", map[string]interface{}{
		"name": "a", "nested": map[string]interface{}{"x": 1.0, "y": 2.0},
	})
	b := jsonEntry("/b.json", map[string]interface{}{
		"name": "b", "nested": map[string]interface{}{"y": 20.0, "z": 3.0},
	})
	res, err := Merge([]Source{{Path: "/a.json", Entry: a}, {Path: "/b.json", Entry: b}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.Content.(map[string]interface{})
	if m["name"] != "b" {
		t.Fatalf("expected last-wins scalar, got %v", m["name"])
	}
	nested := m["nested"].(map[string]interface{})
	if nested["x"] != 1.0 || nested["y"] != 20.0 || nested["z"] != 3.0 {
		t.Fatalf("unexpected deep-merge result: %+v", nested)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("expected 2 contributing sources, got %v", res.Sources)
	}
}

func TestMergeOptionalSourceSkippedWhenMissing(t *testing.T) {
	a := jsonEntry("/a.json", map[string]interface{}{"x": 1.0})
	res, err := Merge([]Source{
		{Path: "/a.json", Entry: a},
		{Path: "/missing.json", Optional: true, Entry: nil},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "/a.json" {
		t.Fatalf("expected only /a.json to contribute, got %v", res.Sources)
	}
}

func TestMergeMissingRequiredSourceFails(t *testing.T) {
	_, err := Merge([]Source{
		{Path: "/missing.json", Entry: nil},
	}, nil)
	if apierr.KindOf(err) != apierr.EntryNotFound {
		t.Fatalf("expected entry-not-found, got %v", err)
	}
}

func TestMergeAllSourcesMissingFailsEvenIfOptional(t *testing.T) {
	_, err := Merge([]Source{
		{Path: "/a.json", Optional: true, Entry: nil},
		{Path: "/b.json", Optional: true, Entry: nil},
	}, nil)
	if apierr.KindOf(err) != apierr.EntryNotFound {
		t.Fatalf("expected entry-not-found, got %v", err)
	}
}

func TestMergeTypeMismatchFails(t *testing.T) {
	a := jsonEntry("/a.json", map[string]interface{}{"x": map[string]interface{}{"y": 1.0}})
	b := jsonEntry("/b.json", map[string]interface{}{"x": 5.0})
	_, err := Merge([]Source{{Path: "/a.json", Entry: a}, {Path: "/b.json", Entry: b}}, nil)
	if apierr.KindOf(err) != apierr.QueryExecution {
		t.Fatalf("expected query-execution, got %v", err)
	}
}

func TestMergeYAMLFamilyOnlyWhenAllYAML(t *testing.T) {
	a := &types.Entry{Path: "/a.yaml", Type: types.EntryJSON, YAMLTag: true, Content: map[string]interface{}{"x": 1.0}}
	b := &types.Entry{Path: "/b.json", Type: types.EntryJSON, YAMLTag: false, Content: map[string]interface{}{"y": 2.0}}
	res, err := Merge([]Source{{Path: "/a.yaml", Entry: a}, {Path: "/b.json", Entry: b}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.YAMLTag {
		t.Fatalf("expected JSON output family when one source is JSON")
	}
}

func TestMergeAllYAMLKeepsYAMLFamily(t *testing.T) {
	a := &types.Entry{Path: "/a.yaml", Type: types.EntryJSON, YAMLTag: true, Content: map[string]interface{}{"x": 1.0}}
	b := &types.Entry{Path: "/b.yaml", Type: types.EntryJSON, YAMLTag: true, Content: map[string]interface{}{"y": 2.0}}
	res, err := Merge([]Source{{Path: "/a.yaml", Entry: a}, {Path: "/b.yaml", Entry: b}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.YAMLTag {
		t.Fatalf("expected YAML output family when all sources are YAML")
	}
}

func TestMergeWithJSONPath(t *testing.T) {
	a := jsonEntry("/a.json", map[string]interface{}{"list": []interface{}{1.0, 2.0, 3.0}})
	res, err := Merge([]Source{{Path: "/a.json", Entry: a}}, []string{"list", "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content.(float64) != 3 {
		t.Fatalf("unexpected json-path result: %v", res.Content)
	}
}
