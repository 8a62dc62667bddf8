// Package filesystem provides the local ports.FileSystem adapter.
package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// LocalFileSystem implements ports.FileSystem on the machine provision runs on.
// With a root set, every absolute path is resolved beneath it, which lets a
// plan be rendered into a staging tree instead of /.
type LocalFileSystem struct {
	root string
}

// NewLocalFileSystem creates a LocalFileSystem rooted at /.
func NewLocalFileSystem() *LocalFileSystem {
	return &LocalFileSystem{}
}

// NewRootedFileSystem creates a LocalFileSystem that resolves paths under root.
func NewRootedFileSystem(root string) *LocalFileSystem {
	return &LocalFileSystem{root: filepath.Clean(root)}
}

func (l *LocalFileSystem) resolve(p string) string {
	if l.root == "" {
		return p
	}
	return filepath.Join(l.root, filepath.FromSlash(p))
}

// ReadFile reads a file and returns its contents.
func (l *LocalFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(l.resolve(path))
}

// WriteFile writes data and flushes it to disk before returning, so a rename
// that follows never publishes a truncated file.
func (l *LocalFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(l.resolve(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// OpenFile only applies perm on create, and the umask may narrow it.
	return os.Chmod(l.resolve(path), perm)
}

// Exists checks if a file or directory exists.
func (l *LocalFileSystem) Exists(path string) bool {
	_, err := os.Lstat(l.resolve(path))
	return err == nil
}

// Remove removes a file or empty directory.
func (l *LocalFileSystem) Remove(path string) error {
	return os.Remove(l.resolve(path))
}

// MkdirAll creates a directory and all necessary parents.
func (l *LocalFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(l.resolve(path), perm)
}

// Rename replaces newPath with oldPath.
func (l *LocalFileSystem) Rename(oldPath, newPath string) error {
	if err := os.Rename(l.resolve(oldPath), l.resolve(newPath)); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, fs.ErrNotExist) {
			return fmt.Errorf("rename %s: %w", oldPath, fs.ErrNotExist)
		}
		return err
	}
	return nil
}

var _ ports.FileSystem = (*LocalFileSystem)(nil)
