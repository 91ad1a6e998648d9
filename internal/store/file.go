// ABOUTME: File-backed key-value backend on an afero filesystem.
// ABOUTME: One JSON file per key under a base directory, written via temp file + rename.

package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileKV implements KV as files in a directory. Use afero.NewOsFs for real
// storage and afero.NewMemMapFs in tests.
type FileKV struct {
	fs  afero.Fs
	dir string
}

// NewFileKV creates the base directory if needed.
func NewFileKV(fsys afero.Fs, dir string) (*FileKV, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FileKV{fs: fsys, dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(f.dir, safe+".json")
}

// Get returns the file contents for key or ErrNotFound.
func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Set replaces the file for key.
func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	target := f.path(key)
	tmp := target + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, value, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := f.fs.Rename(tmp, target); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", key, err)
	}
	return nil
}

// Delete removes the file for key. Missing files are not an error.
func (f *FileKV) Delete(_ context.Context, key string) error {
	err := f.fs.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (f *FileKV) Close() error { return nil }
