package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Store manages transient files under a single directory. Every file gets a
// unique name, so concurrent requests never share a path, and the returned
// cleanup must run on every exit path.
type Store struct {
	dir string
}

// New creates the directory if needed and returns a store rooted at it.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store directory must not be empty")
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory %q: %w", absDir, err)
	}

	return &Store{dir: absDir}, nil
}

// Dir returns the absolute directory the store writes into.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists content under a fresh unique name with the given extension
// and returns the file path plus an idempotent cleanup.
func (s *Store) Write(content []byte, ext string) (string, func(), error) {
	path := s.newPath(ext)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", nil, fmt.Errorf("write transient file: %w", err)
	}
	return path, removeOnce(path), nil
}

// Save streams the reader's content to a fresh unique name with the given
// extension and returns the file path plus an idempotent cleanup.
func (s *Store) Save(src io.Reader, ext string) (string, func(), error) {
	path := s.newPath(ext)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("create transient file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("save transient file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("close transient file: %w", err)
	}

	return path, removeOnce(path), nil
}

func (s *Store) newPath(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(s.dir, uuid.NewString()+ext)
}

func removeOnce(path string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			os.Remove(path)
		})
	}
}
