package server

import "testing"

func TestDiff(t *testing.T) {
	var table = []struct {
		name     string
		old, new string
		want     string
	}{
		{"identical", "a\nb\n", "a\nb\n", ""},
		{"one line replaced", "A\n", "B\n", "< A\n---\n> B\n"},
		{"line added", "a\nc\n", "a\nb\nc\n", "> b\n"},
		{"line removed", "a\nb\nc\n", "a\nc\n", "< b\n"},
		{"replacement in context", "keep\nold\nkeep\n", "keep\nnew\nkeep\n", "< old\n---\n> new\n"},
		{"from empty", "", "a\nb\n", "> a\n> b\n"},
		{"to empty", "a\nb\n", "", "< a\n< b\n"},
		{"two hunks", "a\nx\nb\ny\n", "a\nX\nb\nY\n", "< x\n---\n> X\n< y\n---\n> Y\n"},
	}
	for _, tc := range table {
		got := Diff(tc.old, tc.new)
		if got != tc.want {
			t.Errorf("%s: Diff = %q, expected %q", tc.name, got, tc.want)
		}
	}
}
