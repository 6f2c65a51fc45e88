package version

import (
	"strings"
	"testing"
)

func TestCheckCompatible(t *testing.T) {
	cases := []struct {
		name          string
		server, client string
		wantErr       bool
	}{
		{"identical", "1.2.3", "1.2.3", false},
		{"server newer patch", "1.2.4", "1.2.3", false},
		{"server older patch", "1.2.0", "1.2.3", true},
		{"server older major", "1.9.0", "2.0.0", true},
		{"client older major", "2.0.0", "1.9.0", true},
		{"empty client skips check", "1.0.0", "", false},
		{"empty server skips check", "", "1.0.0", false},
		{"unparseable server skips check", "not-a-version", "1.0.0", false},
		{"unparseable client skips check", "1.0.0", "not-a-version", false},
		{"v-prefixed inputs", "v1.2.3", "v1.2.3", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckCompatible(tc.server, tc.client)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for server=%s client=%s, got nil", tc.server, tc.client)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error for server=%s client=%s, got %v", tc.server, tc.client, err)
			}
		})
	}
}

func TestCheckCompatibleMessageNamesOlderSide(t *testing.T) {
	err := CheckCompatible("1.0.0", "2.0.0")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "server is older") {
		t.Fatalf("expected message naming the server as the older side, got %q", got)
	}
}
