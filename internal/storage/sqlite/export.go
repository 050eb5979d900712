package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
)

// Staging is an artifact being built next to its final path. Publish moves it
// into place with a rename, so readers never observe a partial file.
type Staging struct {
	Path   string
	target string
}

// Stage creates the target directory if needed and reserves an empty temp
// file in it.
func Stage(target string) (*Staging, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sports-*.db")
	if err != nil {
		return nil, err
	}
	name := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return nil, err
	}
	return &Staging{Path: name, target: target}, nil
}

// Publish renames the staged file over the target and returns its size.
func (s *Staging) Publish() (int64, error) {
	if err := os.Chmod(s.Path, 0o644); err != nil {
		_ = os.Remove(s.Path)
		return 0, err
	}
	st, err := os.Stat(s.Path)
	if err != nil {
		_ = os.Remove(s.Path)
		return 0, err
	}
	if err := os.Rename(s.Path, s.target); err != nil {
		_ = os.Remove(s.Path)
		return 0, fmt.Errorf("publish %s: %w", s.target, err)
	}
	return st.Size(), nil
}

// Discard removes the staged file. Safe to call after Publish.
func (s *Staging) Discard() {
	_ = os.Remove(s.Path)
}
