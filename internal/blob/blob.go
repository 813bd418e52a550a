// Package blob stores the bytes of shared files in a per-room directory
// tree. It is a dumb collaborator: all authorization and expiry policy
// lives with the file gate.
package blob

import (
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store writes file payloads under root/<roomKey>/<fileID>. The afero
// filesystem makes it trivially swappable for an in-memory one in tests.
type Store struct {
	fs   afero.Fs
	root string
}

func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

func (s *Store) path(key, fileID string) string {
	return filepath.Join(s.root, key, fileID)
}

// Save streams r to disk and reports the byte count.
func (s *Store) Save(key, fileID string, r io.Reader) (int64, error) {
	dir := filepath.Join(s.root, key)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	f, err := s.fs.Create(s.path(key, fileID))
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(s.path(key, fileID))
		return 0, err
	}
	return n, nil
}

func (s *Store) Open(key, fileID string) (io.ReadCloser, error) {
	return s.fs.Open(s.path(key, fileID))
}

func (s *Store) Size(key, fileID string) (int64, error) {
	info, err := s.fs.Stat(s.path(key, fileID))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *Store) Remove(key, fileID string) error {
	return s.fs.Remove(s.path(key, fileID))
}

// RemoveDirIfEmpty drops the room's upload directory once its last file
// is gone.
func (s *Store) RemoveDirIfEmpty(key string) error {
	dir := filepath.Join(s.root, key)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil || len(entries) > 0 {
		return err
	}
	return s.fs.Remove(dir)
}

// RemoveAll erases everything a destroyed room ever uploaded.
func (s *Store) RemoveAll(key string) error {
	return s.fs.RemoveAll(filepath.Join(s.root, key))
}
