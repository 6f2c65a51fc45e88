package query

import (
	"testing"

	"github.com/line/centraldogma-sub005/internal/apierr"
	"github.com/line/centraldogma-sub005/internal/types"
)

func TestEvaluateIdentity(t *testing.T) {
	e := &types.Entry{Path: "/a.txt", Type: types.EntryText, Content: "hi"}
	got, err := Evaluate(e, Identity())
	if err != nil || got.Content != "hi" {
		t.Fatalf("got %+v, err %v", got, err)
	}
}

func TestEvaluateOfTextFromJSON(t *testing.T) {
	e := &types.Entry{Path: "/a.json", Type: types.EntryJSON, Content: map[string]interface{}{"a": "b"}}
	got, err := Evaluate(e, OfText())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != types.EntryText {
		t.Fatalf("expected TEXT type, got %v", got.Type)
	}
}

func TestEvaluateOfJSONFromText(t *testing.T) {
	e := &types.Entry{Path: "/a.json", Type: types.EntryText, Content: `{"a":1}`}
	got, err := Evaluate(e, OfJSON())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := got.Content.(map[string]interface{})
	if m["a"].(float64) != 1 {
		t.Fatalf("unexpected content: %+v", m)
	}
}

func TestEvaluateJSONPath(t *testing.T) {
	e := &types.Entry{Path: "/a.json", Type: types.EntryJSON, Content: map[string]interface{}{
		"a": map[string]interface{}{"b": []interface{}{1.0, 2.0, 3.0}},
	}}
	got, err := Evaluate(e, OfJSONPath("a.b", "1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content.(float64) != 2 {
		t.Fatalf("unexpected result: %+v", got.Content)
	}
}

func TestEvaluateJSONPathMissing(t *testing.T) {
	e := &types.Entry{Path: "/a.json", Type: types.EntryJSON, Content: map[string]interface{}{"a": 1.0}}
	_, err := Evaluate(e, OfJSONPath("missing.path"))
	if apierr.KindOf(err) != apierr.QueryExecution {
		t.Fatalf("expected query-execution, got %v", err)
	}
}

func TestEvaluateNilEntry(t *testing.T) {
	_, err := Evaluate(nil, Identity())
	if apierr.KindOf(err) != apierr.EntryNotFound {
		t.Fatalf("expected entry-not-found, got %v", err)
	}
}
