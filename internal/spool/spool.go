// Package spool manages the directory holding transient rendered artifacts.
package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Spool allocates unique artifact paths inside a single directory.
type Spool struct {
	dir string
	now func() time.Time
}

// New ensures dir exists and is writable.
func New(dir string) (*Spool, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create artifact directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat artifact directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("artifact path %q is not a directory", dir)
	}
	s := &Spool{dir: dir, now: time.Now}
	if err := s.Writable(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

// NewPath returns <dir>/<project>-<unix-nanos>-<request>.png. The request id
// keeps paths unique when two captures for one project start in the same instant.
func (s *Spool) NewPath(projectID, requestID string) (string, error) {
	if projectID == "" || requestID == "" {
		return "", fmt.Errorf("project id and request id are required")
	}
	name := fmt.Sprintf("%s-%d-%s.png", sanitize(projectID), s.now().UnixNano(), sanitize(requestID))
	return filepath.Join(s.dir, name), nil
}

// Remove deletes path. A file that is already gone is not an error.
func (s *Spool) Remove(path string) error {
	if filepath.Dir(filepath.Clean(path)) != filepath.Clean(s.dir) {
		return fmt.Errorf("refusing to remove %q outside artifact directory", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Writable verifies a file can be created in the spool directory.
func (s *Spool) Writable() error {
	f, err := os.CreateTemp(s.dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("artifact directory is not writable: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return fmt.Errorf("close probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("remove probe file: %w", err)
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
