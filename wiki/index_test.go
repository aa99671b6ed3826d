package wiki

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestListPagesRebuild(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"Charlie", "alpha", "Bravo"} {
		if _, err := s.WritePage("", name, "text", "0000"); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"Bravo", "Charlie", "alpha"}
	got, err := s.ListPages("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListPages (-want +got):\n%s", diff)
	}

	// deleting the cache forces a regeneration with identical bytes
	path := filepath.Join(s.root, "index")
	cached, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ListPages(""); err != nil {
		t.Fatal(err)
	}
	rebuilt, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(cached) != string(rebuilt) {
		t.Errorf("rebuilt index differs:\n%q\n%q", cached, rebuilt)
	}
}

func TestIndexInvalidatedByWrite(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WritePage("", "One", "text", "0000"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ListPages(""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WritePage("", "Two", "text", "0000"); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListPages("")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("index not invalidated, got %v", got)
	}
}

func TestIndexSkipsDeletedPages(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WritePage("", "Stays", "text", "0000"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WritePage("", "Goes", "text", "0000"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WritePage("", "Goes", "", "0000"); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListPages("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Stays"}, got); diff != "" {
		t.Errorf("ListPages (-want +got):\n%s", diff)
	}
}
