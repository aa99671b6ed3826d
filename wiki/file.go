package wiki

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// FileMeta is the sidecar record stored next to an uploaded file.
type FileMeta struct {
	ContentType string `json:"content-type"`
}

// WriteFile stores an uploaded file and its meta sidecar. Files carry
// no revision history; a second upload overwrites the first in place.
// The change-log entry for a file write uses revision 0.
func (s *Store) WriteFile(space, name string, data []byte, mime, code string) error {
	dir, err := s.spacePath(space)
	if err != nil {
		return err
	}
	if !ValidName(name) {
		return ErrBadName
	}
	unlock := s.locks.lock(space + "\x00" + name)
	defer unlock()

	if err := writeAtomic(filepath.Join(dir, "file", name), data); err != nil {
		return err
	}
	meta, err := json.Marshal(FileMeta{ContentType: mime})
	if err != nil {
		return errors.Wrap(err, "encoding file meta")
	}
	if err := writeAtomic(filepath.Join(dir, "meta", name), meta); err != nil {
		return err
	}
	if err := s.appendChange(space, dir, name, 0, code); err != nil {
		// The file is committed; history reconstruction is best effort.
		log.Println("change log append failed:", err)
		raven.CaptureError(err, nil)
	}
	return nil
}

// ReadFile returns the bytes and declared content type of an uploaded
// file. A file whose sidecar is missing is treated as absent, matching
// the invariant that the pair exists together or not at all.
func (s *Store) ReadFile(space, name string) ([]byte, string, error) {
	dir, err := s.spacePath(space)
	if err != nil {
		return nil, "", err
	}
	if !ValidName(name) {
		return nil, "", ErrBadName
	}
	raw, err := os.ReadFile(filepath.Join(dir, "meta", name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", errors.Wrap(err, "reading file meta")
	}
	var meta FileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, "", errors.Wrap(err, "decoding file meta")
	}
	data, err := os.ReadFile(filepath.Join(dir, "file", name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", errors.Wrap(err, "reading file")
	}
	return data, meta.ContentType, nil
}
