package server

import "testing"

func TestAuthorize(t *testing.T) {
	cfg := &Config{
		Tokens:       []string{"hello"},
		SpaceTokens:  map[string][]string{"notes": {"scribble"}},
		Fingerprints: []string{"cafe00"},
	}
	var table = []struct {
		space, token, fp string
		want             bool
	}{
		{"", "hello", "", true},
		{"notes", "hello", "", true},
		{"notes", "scribble", "", true},
		{"", "scribble", "", false},
		{"", "wrong", "", false},
		{"", "", "", false},
		{"", "", "cafe00", true},
		{"", "", "beef99", false},
		{"", "HELLO", "", false}, // tokens are opaque bytes
	}
	for _, tc := range table {
		if got := cfg.Authorize(tc.space, tc.token, tc.fp); got != tc.want {
			t.Errorf("Authorize(%q, %q, %q) = %v, expected %v",
				tc.space, tc.token, tc.fp, got, tc.want)
		}
	}
}
