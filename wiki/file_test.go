package wiki

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestWriteReadFile(t *testing.T) {
	s := newTestStore(t)
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	if err := s.WriteFile("", "jupiter.jpg", payload, "image/jpeg", "0042"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, mime, err := s.ReadFile("", "jupiter.jpg")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("bytes differ: %x", data)
	}
	if mime != "image/jpeg" {
		t.Errorf("content type = %q", mime)
	}
}

func TestFileOverwriteLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteFile("", "f", []byte("old"), "text/plain", "0000"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("", "f", []byte("new"), "application/octet-stream", "0000"); err != nil {
		t.Fatal(err)
	}
	data, mime, err := s.ReadFile("", "f")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" || mime != "application/octet-stream" {
		t.Errorf("overwrite failed: %q %q", data, mime)
	}
}

func TestFileWithoutSidecarIsAbsent(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteFile("", "f", []byte("data"), "text/plain", "0000"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(s.root, "meta", "f")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.ReadFile("", "f"); !errors.Is(err, ErrNotFound) {
		t.Errorf("file without sidecar: %v, expected ErrNotFound", err)
	}
}

func TestReadFileNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.ReadFile("", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadFile: %v, expected ErrNotFound", err)
	}
}
