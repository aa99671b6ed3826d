package wiki

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// ListPages returns the names of the current pages of a space, in
// sorted order. The list is served from the index cache when present;
// otherwise it is rebuilt from the page directory and the cache is
// rewritten. Concurrent rebuilds of the same space collapse into one.
func (s *Store) ListPages(space string) ([]string, error) {
	dir, err := s.spacePath(space)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "index"))
	if err == nil {
		var names []string
		for _, line := range strings.Split(string(data), "\n") {
			if line != "" {
				names = append(names, line)
			}
		}
		return names, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "reading index")
	}
	v, err := s.rebuild.Do(space, func() (interface{}, error) {
		return s.buildIndex(dir)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// buildIndex scans the page directory and rewrites the index cache.
// The index is a pure function of the directory, so racing a writer is
// harmless: the writer drops the cache again after its rename.
func (s *Store) buildIndex(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "page"))
	if err != nil {
		return nil, errors.Wrap(err, "scanning page directory")
	}
	names := []string{}
	for _, e := range entries {
		n, ok := strings.CutSuffix(e.Name(), ".gmi")
		if !ok || strings.HasPrefix(n, ".") {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	if err := writeAtomic(filepath.Join(dir, "index"), []byte(b.String())); err != nil {
		return nil, err
	}
	return names, nil
}

// dropIndex removes the index cache so the next read regenerates it.
func (s *Store) dropIndex(dir string) {
	err := os.Remove(filepath.Join(dir, "index"))
	if err != nil && !os.IsNotExist(err) {
		log.Println(err)
		raven.CaptureError(err, nil)
	}
}
