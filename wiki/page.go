package wiki

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// A Page is one revision of a wiki page.
type Page struct {
	Space    string
	Name     string
	Revision int
	Text     string
}

func pagePath(dir, name string) string {
	return filepath.Join(dir, "page", name+".gmi")
}

func keepDir(dir, name string) string {
	return filepath.Join(dir, "keep", name)
}

// ReadPage returns the current revision of a page.
func (s *Store) ReadPage(space, name string) (*Page, error) {
	dir, err := s.spacePath(space)
	if err != nil {
		return nil, err
	}
	if !ValidName(name) {
		return nil, ErrBadName
	}
	text, err := os.ReadFile(pagePath(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "reading page")
	}
	rev, _, err := s.currentRevision(dir, name)
	if err != nil {
		return nil, err
	}
	return &Page{Space: space, Name: name, Revision: rev, Text: string(text)}, nil
}

// ReadPageRevision returns a historical revision of a page. Asking for
// the current revision number is also answered. A revision that was a
// deletion has no content and reads as not found.
func (s *Store) ReadPageRevision(space, name string, rev int) (*Page, error) {
	dir, err := s.spacePath(space)
	if err != nil {
		return nil, err
	}
	if !ValidName(name) || rev < 1 {
		return nil, ErrBadName
	}
	text, err := os.ReadFile(filepath.Join(keepDir(dir, name), fmt.Sprintf("%d.gmi", rev)))
	if err == nil {
		if len(text) == 0 {
			// a deletion tombstone; the revision has no content
			return nil, ErrNotFound
		}
		return &Page{Space: space, Name: name, Revision: rev, Text: string(text)}, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "reading page revision")
	}
	// the newest revision lives in the primary slot, not under keep/
	p, err := s.ReadPage(space, name)
	if err == nil && p.Revision == rev {
		return p, nil
	}
	return nil, ErrNotFound
}

// WritePage commits a new revision of a page and returns its number.
// The previous content, if any, moves to the keep area first. An empty
// text deletes the page: the primary slot goes away, and the deletion
// revision is materialized as a zero-byte tombstone under keep/ so
// numbering never restarts and a later recreate continues the
// sequence.
func (s *Store) WritePage(space, name, text, code string) (int, error) {
	dir, err := s.spacePath(space)
	if err != nil {
		return 0, err
	}
	if !ValidName(name) {
		return 0, ErrBadName
	}
	unlock := s.locks.lock(space + "\x00" + name)
	defer unlock()

	cur, primary, err := s.currentRevision(dir, name)
	if err != nil {
		return 0, err
	}
	if primary {
		old, err := os.ReadFile(pagePath(dir, name))
		if err != nil {
			return 0, errors.Wrap(err, "reading page for keep")
		}
		kd := keepDir(dir, name)
		if err := os.MkdirAll(kd, 0755); err != nil {
			return 0, errors.Wrap(err, "creating keep directory")
		}
		err = writeAtomic(filepath.Join(kd, fmt.Sprintf("%d.gmi", cur)), old)
		if err != nil {
			return 0, err
		}
	}
	rev := cur + 1
	if text == "" {
		kd := keepDir(dir, name)
		if err := os.MkdirAll(kd, 0755); err != nil {
			return 0, errors.Wrap(err, "creating keep directory")
		}
		err = writeAtomic(filepath.Join(kd, fmt.Sprintf("%d.gmi", rev)), nil)
		if err != nil {
			return 0, err
		}
		err = os.Remove(pagePath(dir, name))
		if err != nil && !os.IsNotExist(err) {
			return 0, errors.Wrap(err, "deleting page")
		}
	} else {
		if err := writeAtomic(pagePath(dir, name), []byte(text)); err != nil {
			return 0, err
		}
	}
	s.dropIndex(dir)
	if err := s.appendChange(space, dir, name, rev, code); err != nil {
		// The page is committed; history reconstruction is best effort.
		log.Println("change log append failed:", err)
		raven.CaptureError(err, nil)
	}
	return rev, nil
}

// Revisions lists the kept revision numbers of a page, newest first.
// The current revision is not listed; it lives in the primary slot.
// Deletion tombstones are skipped, they carry no content to show.
func (s *Store) Revisions(space, name string) ([]int, error) {
	dir, err := s.spacePath(space)
	if err != nil {
		return nil, err
	}
	if !ValidName(name) {
		return nil, ErrBadName
	}
	entries, err := os.ReadDir(keepDir(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "listing revisions")
	}
	var revs []int
	for _, e := range entries {
		n, ok := strings.CutSuffix(e.Name(), ".gmi")
		if !ok {
			continue
		}
		rev, err := strconv.Atoi(n)
		if err != nil || rev < 1 {
			continue
		}
		if fi, err := e.Info(); err != nil || fi.Size() == 0 {
			continue
		}
		revs = append(revs, rev)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(revs)))
	return revs, nil
}

// currentRevision determines the page's current revision number, and
// whether the primary slot exists. With a primary slot present the
// current revision is one past the highest kept number; without one,
// the highest kept number is the current revision itself, because a
// deletion leaves its revision behind as a tombstone. A page never
// written reports 0.
func (s *Store) currentRevision(dir, name string) (int, bool, error) {
	primary := true
	_, err := os.Stat(pagePath(dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			return 0, false, errors.Wrap(err, "stat page")
		}
		primary = false
	}
	maxkeep := 0
	entries, err := os.ReadDir(keepDir(dir, name))
	if err != nil && !os.IsNotExist(err) {
		return 0, false, errors.Wrap(err, "reading keep directory")
	}
	for _, e := range entries {
		n, ok := strings.CutSuffix(e.Name(), ".gmi")
		if !ok {
			continue
		}
		rev, err := strconv.Atoi(n)
		if err == nil && rev > maxkeep {
			maxkeep = rev
		}
	}
	if primary {
		return maxkeep + 1, true, nil
	}
	return maxkeep, false, nil
}

// writeAtomic writes data to path through a temp file in the same
// directory followed by a rename, so a concurrent reader sees either
// the previous content or the new one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		log.Println(err)
		raven.CaptureError(err, nil)
		return errors.Wrap(err, "creating temp file")
	}
	_, err = tmp.Write(data)
	if err2 := tmp.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmp.Name())
		log.Println(err)
		raven.CaptureError(err, nil)
		return errors.Wrap(err, "writing temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		log.Println(err)
		raven.CaptureError(err, nil)
		return errors.Wrap(err, "renaming temp file")
	}
	return nil
}
