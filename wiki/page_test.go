package wiki

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
)

func newTestStore(t *testing.T, spaces ...string) *Store {
	t.Helper()
	s, err := New(t.TempDir(), spaces, clock.NewMock())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteReadPage(t *testing.T) {
	s := newTestStore(t)
	rev, err := s.WritePage("", "Welcome", "Welcome to the wiki!\nPlease be kind.", "0012")
	if err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if rev != 1 {
		t.Errorf("first revision = %d, expected 1", rev)
	}
	p, err := s.ReadPage("", "Welcome")
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if p.Text != "Welcome to the wiki!\nPlease be kind." {
		t.Errorf("wrong text read back: %q", p.Text)
	}
	if p.Revision != 1 {
		t.Errorf("Revision = %d, expected 1", p.Revision)
	}
}

func TestRevisionSequence(t *testing.T) {
	s := newTestStore(t)
	texts := []string{"one", "two", "three", "four"}
	for i, text := range texts {
		rev, err := s.WritePage("", "Seq", text, "0000")
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if rev != i+1 {
			t.Errorf("write %d: revision = %d, expected %d", i, rev, i+1)
		}
	}
	// every prior revision must be readable with its original content
	for i, text := range texts[:len(texts)-1] {
		p, err := s.ReadPageRevision("", "Seq", i+1)
		if err != nil {
			t.Fatalf("ReadPageRevision %d: %v", i+1, err)
		}
		if p.Text != text {
			t.Errorf("revision %d = %q, expected %q", i+1, p.Text, text)
		}
	}
	// the current revision is answered too
	p, err := s.ReadPageRevision("", "Seq", 4)
	if err != nil {
		t.Fatalf("ReadPageRevision current: %v", err)
	}
	if p.Text != "four" {
		t.Errorf("current revision text = %q", p.Text)
	}
	revs, err := s.Revisions("", "Seq")
	if err != nil {
		t.Fatalf("Revisions: %v", err)
	}
	expected := []int{3, 2, 1}
	if len(revs) != len(expected) {
		t.Fatalf("Revisions = %v, expected %v", revs, expected)
	}
	for i := range revs {
		if revs[i] != expected[i] {
			t.Errorf("Revisions = %v, expected %v", revs, expected)
			break
		}
	}
}

func TestDeleteKeepsHistoryAndNumbering(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WritePage("", "Doomed", "alpha", "0000"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WritePage("", "Doomed", "beta", "0000"); err != nil {
		t.Fatal(err)
	}
	rev, err := s.WritePage("", "Doomed", "", "0000")
	if err != nil {
		t.Fatalf("deleting write: %v", err)
	}
	if rev != 3 {
		t.Errorf("deletion revision = %d, expected 3", rev)
	}
	if _, err := s.ReadPage("", "Doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadPage after delete: %v, expected ErrNotFound", err)
	}
	// history survives the deletion
	for i, text := range []string{"alpha", "beta"} {
		p, err := s.ReadPageRevision("", "Doomed", i+1)
		if err != nil {
			t.Fatalf("revision %d after delete: %v", i+1, err)
		}
		if p.Text != text {
			t.Errorf("revision %d = %q, expected %q", i+1, p.Text, text)
		}
	}
	// the deletion revision itself has no content
	if _, err := s.ReadPageRevision("", "Doomed", 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("deletion revision readable: %v", err)
	}
	// numbering never restarts
	rev, err = s.WritePage("", "Doomed", "reborn", "0000")
	if err != nil {
		t.Fatal(err)
	}
	if rev != 4 {
		t.Errorf("post-deletion revision = %d, expected 4", rev)
	}
	// the recreated page must agree with the number the write reported
	p, err := s.ReadPage("", "Doomed")
	if err != nil {
		t.Fatal(err)
	}
	if p.Revision != 4 || p.Text != "reborn" {
		t.Errorf("recreated page = %q revision %d, expected \"reborn\" revision 4", p.Text, p.Revision)
	}
	p, err = s.ReadPageRevision("", "Doomed", 4)
	if err != nil {
		t.Fatalf("ReadPageRevision(4) after recreate: %v", err)
	}
	if p.Text != "reborn" {
		t.Errorf("revision 4 = %q, expected %q", p.Text, "reborn")
	}
	// and the next write continues the sequence without duplicates
	rev, err = s.WritePage("", "Doomed", "again", "0000")
	if err != nil {
		t.Fatal(err)
	}
	if rev != 5 {
		t.Errorf("follow-up revision = %d, expected 5", rev)
	}
	if p, err := s.ReadPageRevision("", "Doomed", 4); err != nil || p.Text != "reborn" {
		t.Errorf("revision 4 after follow-up write: %v, %v", p, err)
	}
	revs, err := s.Revisions("", "Doomed")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range revs {
		if r == 3 {
			t.Errorf("deletion tombstone listed among revisions: %v", revs)
		}
	}
}

func TestPageNameValidation(t *testing.T) {
	s := newTestStore(t)
	var table = []string{
		"",
		"a/b",
		".hidden",
		"nul\x00byte",
		"bad\xffutf8",
	}
	for _, name := range table {
		if _, err := s.WritePage("", name, "text", "0000"); !errors.Is(err, ErrBadName) {
			t.Errorf("WritePage(%q): %v, expected ErrBadName", name, err)
		}
	}
	// unicode names are fine and land on disk under their decoded form
	if _, err := s.WritePage("", "Überseite", "text", "0000"); err != nil {
		t.Errorf("unicode name rejected: %v", err)
	}
}

func TestSpaces(t *testing.T) {
	s := newTestStore(t, "notes")
	if _, err := s.WritePage("notes", "N", "in space", "0000"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadPage("", "N"); !errors.Is(err, ErrNotFound) {
		t.Errorf("page leaked across spaces: %v", err)
	}
	if _, err := s.ReadPage("nope", "N"); !errors.Is(err, ErrUnknownSpace) {
		t.Errorf("undeclared space: %v, expected ErrUnknownSpace", err)
	}
	if _, err := New(t.TempDir(), []string{"keep"}, clock.NewMock()); !errors.Is(err, ErrReservedSpace) {
		t.Errorf("reserved space name accepted: %v", err)
	}
}

func TestWritePageAtomicLayout(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WritePage("", "P", "v1", "0000"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WritePage("", "P", "v2", "0000"); err != nil {
		t.Fatal(err)
	}
	// no temp droppings may remain next to the slots
	for _, sub := range []string{"page", filepath.Join("keep", "P")} {
		entries, err := os.ReadDir(filepath.Join(s.root, sub))
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if e.Name()[0] == '.' {
				t.Errorf("leftover temp file %s in %s", e.Name(), sub)
			}
		}
	}
}

func TestConcurrentWritesTotalOrder(t *testing.T) {
	s := newTestStore(t)
	const writers = 8
	done := make(chan int, writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			rev, err := s.WritePage("", "X", fmt.Sprintf("body %d", i), "0000")
			if err != nil {
				t.Error(err)
			}
			done <- rev
		}(i)
	}
	seen := make(map[int]bool)
	for i := 0; i < writers; i++ {
		rev := <-done
		if seen[rev] {
			t.Errorf("revision %d issued twice", rev)
		}
		seen[rev] = true
	}
	for rev := 1; rev <= writers; rev++ {
		if !seen[rev] {
			t.Errorf("revision %d missing from 1..%d", rev, writers)
		}
	}
}
