package pattern

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"globstar matches everything", "/**", "/a/b/c.json", true},
		{"globstar matches root file", "/**", "/a.json", true},
		{"star stays within a segment", "/test/*.json", "/test/test3.json", true},
		{"star does not cross slash", "/test/*.json", "/test/sub/test3.json", false},
		{"unrooted pattern is rooted", "test/*.json", "/test/a.json", true},
		{"question mark single rune", "/a?.json", "/ab.json", true},
		{"question mark rejects slash", "/a?.json", "/a/.json", false},
		{"union matches second branch", "/a/*.json, /b/**", "/b/c/d.txt", true},
		{"union matches neither branch", "/a/*.json, /b/**", "/c/d.txt", false},
		{"empty pattern matches nothing", "", "/a.json", false},
		{"exact literal", "/metadata.json", "/metadata.json", true},
		{"globstar mid pattern", "/a/**/z.json", "/a/b/c/z.json", true},
		{"globstar mid pattern no match", "/a/**/z.json", "/a/b/c/y.json", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compile(tt.pattern)
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Compile(%q).Match(%q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestMatchAll(t *testing.T) {
	m := MatchAll()
	if !m.Match("/any/deep/path.yaml") {
		t.Error("MatchAll() should match any path")
	}
}

func TestEmpty(t *testing.T) {
	if !Compile("").Empty() {
		t.Error("empty pattern should report Empty() == true")
	}
	if Compile("/**").Empty() {
		t.Error("/** should not report Empty()")
	}
}
