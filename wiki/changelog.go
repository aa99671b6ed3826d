package wiki

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// fieldSep separates the fields of a change-log record. The record
// terminator is a plain LF.
const fieldSep = "\x1f"

// A Change is one record of the append-only change log.
type Change struct {
	Time     time.Time
	Space    string
	Name     string
	Revision int // 0 for a file write
	Code     string
}

// IsFile reports whether the change records a binary file write.
func (c Change) IsFile() bool {
	return c.Revision == 0
}

// appendChange adds one record to a space's change log. The record is
// written with a single O_APPEND write so concurrent appends cannot
// interleave within a line.
func (s *Store) appendChange(space, dir, name string, rev int, code string) error {
	mu := s.logLock(space)
	mu.Lock()
	defer mu.Unlock()
	f, err := os.OpenFile(filepath.Join(dir, "changes.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "opening change log")
	}
	line := fmt.Sprintf("%d%s%s%s%d%s%s\n",
		s.clock.Now().UTC().Unix(), fieldSep, name, fieldSep, rev, fieldSep, code)
	_, err = f.WriteString(line)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	return errors.Wrap(err, "appending change log")
}

// Changes reads records from the tail of a space's change log
// backward, newest first, skipping offset records and returning at
// most limit (no limit when limit <= 0). A torn final line, as left by
// a writer that died mid-append, parses as garbage and is skipped.
func (s *Store) Changes(space string, offset, limit int) ([]Change, error) {
	dir, err := s.spacePath(space)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, "changes.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "opening change log")
	}
	defer f.Close()

	sc, err := newTailScanner(f)
	if err != nil {
		return nil, err
	}
	var out []Change
	skipped := 0
	for limit <= 0 || len(out) < limit {
		line, ok := sc.Next()
		if !ok {
			break
		}
		c, err := parseChange(line)
		if err != nil {
			continue
		}
		c.Space = space
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, c)
	}
	return out, sc.Err()
}

func parseChange(line string) (Change, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) != 4 {
		return Change{}, errors.Errorf("malformed change record: %q", line)
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Change{}, errors.Wrap(err, "change timestamp")
	}
	rev, err := strconv.Atoi(fields[2])
	if err != nil || rev < 0 {
		return Change{}, errors.Errorf("bad change revision: %q", fields[2])
	}
	return Change{
		Time:     time.Unix(ts, 0).UTC(),
		Name:     fields[1],
		Revision: rev,
		Code:     fields[3],
	}, nil
}

// tailScanner yields the lines of a file from last to first without
// reading the whole file, pulling chunks from the end on demand.
type tailScanner struct {
	f     io.ReaderAt
	pos   int64    // bytes of the file not yet read
	carry []byte   // start-truncated first line of the last chunk
	lines []string // complete lines not yet returned, oldest first
	err   error
}

const tailChunk = 8192

func newTailScanner(f *os.File) (*tailScanner, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat change log")
	}
	return &tailScanner{f: f, pos: fi.Size()}, nil
}

// Next returns the next line moving toward the start of the file.
func (t *tailScanner) Next() (string, bool) {
	for len(t.lines) == 0 {
		if t.pos == 0 {
			if len(t.carry) > 0 {
				line := string(t.carry)
				t.carry = nil
				return line, true
			}
			return "", false
		}
		n := int64(tailChunk)
		if n > t.pos {
			n = t.pos
		}
		buf := make([]byte, n, n+int64(len(t.carry)))
		if _, err := t.f.ReadAt(buf, t.pos-n); err != nil {
			t.err = errors.Wrap(err, "reading change log")
			return "", false
		}
		t.pos -= n
		buf = append(buf, t.carry...)
		parts := strings.Split(string(buf), "\n")
		// the first part may continue a line from an earlier chunk
		t.carry = []byte(parts[0])
		for _, p := range parts[1:] {
			if p != "" {
				t.lines = append(t.lines, p)
			}
		}
	}
	line := t.lines[len(t.lines)-1]
	t.lines = t.lines[:len(t.lines)-1]
	return line, true
}

func (t *tailScanner) Err() error {
	return t.err
}
