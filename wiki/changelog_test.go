package wiki

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/go-cmp/cmp"
)

func TestChangeLogRoundTrip(t *testing.T) {
	mock := clock.NewMock()
	s, err := New(t.TempDir(), nil, mock)
	if err != nil {
		t.Fatal(err)
	}
	// the change log stores whole seconds since the epoch
	stamp := func() time.Time { return time.Unix(mock.Now().UTC().Unix(), 0).UTC() }
	t0 := stamp()
	if _, err := s.WritePage("", "First", "one", "0017"); err != nil {
		t.Fatal(err)
	}
	mock.Add(time.Minute)
	t1 := stamp()
	if _, err := s.WritePage("", "First", "two", "0017"); err != nil {
		t.Fatal(err)
	}
	mock.Add(time.Minute)
	t2 := stamp()
	if err := s.WriteFile("", "pic.jpg", []byte{0xff, 0xd8}, "image/jpeg", "0020"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Changes("", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []Change{
		{Time: t2, Name: "pic.jpg", Revision: 0, Code: "0020"},
		{Time: t1, Name: "First", Revision: 2, Code: "0017"},
		{Time: t0, Name: "First", Revision: 1, Code: "0017"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Changes mismatch (-want +got):\n%s", diff)
	}
	if !got[0].IsFile() {
		t.Error("file change not recognized")
	}
}

func TestChangesOffsetLimit(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if _, err := s.WritePage("", name, name, "0000"); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Changes("", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "d" || got[1].Name != "c" {
		t.Errorf("Changes(1, 2) = %v", got)
	}
}

func TestChangesToleratesTornTail(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WritePage("", "Page", "text", "0001"); err != nil {
		t.Fatal(err)
	}
	// simulate a writer that died mid-append
	f, err := os.OpenFile(filepath.Join(s.root, "changes.log"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("170000" + fieldSep + "trunc"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := s.Changes("", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Page" {
		t.Errorf("torn tail not skipped: %v", got)
	}
}

func TestChangesEmptyLog(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Changes("", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no changes, got %v", got)
	}
}

func TestTailScannerLongLog(t *testing.T) {
	// enough records to span several read chunks
	s := newTestStore(t)
	dir := s.root
	f, err := os.OpenFile(filepath.Join(dir, "changes.log"), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2000; i++ {
		if _, err := f.WriteString("1690000000" + fieldSep + "Page" + fieldSep + "1" + fieldSep + "0000\n"); err != nil {
			t.Fatal(err)
		}
	}
	f.Close()
	got, err := s.Changes("", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2000 {
		t.Errorf("read %d records, expected 2000", len(got))
	}
}
