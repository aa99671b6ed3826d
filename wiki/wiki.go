// Package wiki implements the on-disk store backing a Phoebe wiki: the
// current pages, their kept revisions, uploaded files with their meta
// sidecars, the per-space page index, and the append-only change log.
//
// The store is organized as a tree of spaces. Each space root holds the
// subdirectories page/, keep/, file/, meta/ plus the index cache and the
// changes.log file. The empty space name denotes the root of the tree.
//
// All writes go through a temp-file-plus-rename in the target directory,
// so readers observe either the old or the new content of a slot, never
// a truncated one.
package wiki

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/golang/groupcache/singleflight"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound indicates the requested page, revision or file does
	// not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrBadName means the page or file name is not storable: empty,
	// not UTF-8, or containing '/', NUL, or a leading dot.
	ErrBadName = errors.New("bad name")

	// ErrUnknownSpace means the space was not declared at startup.
	ErrUnknownSpace = errors.New("unknown space")

	// ErrReservedSpace means a space name collides with one of the
	// store's own directory names.
	ErrReservedSpace = errors.New("reserved space name")
)

// The names a space may not use, since they are taken by the store
// layout at every space root.
var reserved = map[string]bool{
	"page":        true,
	"keep":        true,
	"file":        true,
	"meta":        true,
	"index":       true,
	"changes.log": true,
	"config":      true,
}

// Store is the versioned page and file store. All methods are safe for
// concurrent use. Writes to the same (space, name) are serialized by a
// per-resource lock; change-log appends are serialized per space.
type Store struct {
	root   string
	clock  clock.Clock
	spaces map[string]bool

	locks   lockTable
	rebuild singleflight.Group

	logmu struct {
		sync.Mutex
		m map[string]*sync.Mutex
	}
}

// New creates a store rooted at root and declares the given spaces (the
// root space "" is always present). The space directories are created
// eagerly so that a freshly started wiki is immediately writable.
func New(root string, spaces []string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.New()
	}
	s := &Store{
		root:   root,
		clock:  clk,
		spaces: map[string]bool{"": true},
	}
	s.logmu.m = make(map[string]*sync.Mutex)
	for _, sp := range spaces {
		if sp == "" {
			continue
		}
		if !ValidName(sp) {
			return nil, errors.Wrap(ErrBadName, sp)
		}
		if reserved[sp] {
			return nil, errors.Wrap(ErrReservedSpace, sp)
		}
		s.spaces[sp] = true
	}
	for sp := range s.spaces {
		dir := filepath.Join(root, sp)
		for _, sub := range []string{"page", "keep", "file", "meta"} {
			if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
				return nil, errors.Wrap(err, "creating store layout")
			}
		}
	}
	return s, nil
}

// Spaces returns the declared space names, the root space excluded.
func (s *Store) Spaces() []string {
	var out []string
	for sp := range s.spaces {
		if sp != "" {
			out = append(out, sp)
		}
	}
	return out
}

// HasSpace reports whether space was declared at startup.
func (s *Store) HasSpace(space string) bool {
	return s.spaces[space]
}

// spacePath resolves a space name to its directory.
func (s *Store) spacePath(space string) (string, error) {
	if !s.spaces[space] {
		return "", errors.Wrap(ErrUnknownSpace, space)
	}
	return filepath.Join(s.root, space), nil
}

// logLock returns the change-log mutex for a space.
func (s *Store) logLock(space string) *sync.Mutex {
	s.logmu.Lock()
	defer s.logmu.Unlock()
	mu := s.logmu.m[space]
	if mu == nil {
		mu = new(sync.Mutex)
		s.logmu.m[space] = mu
	}
	return mu
}
