package remote

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/sftp"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// SFTPFileSystem implements ports.FileSystem on the remote host.
type SFTPFileSystem struct {
	client *sftp.Client
}

// NewSFTPFileSystem wraps an SFTP client.
func NewSFTPFileSystem(client *sftp.Client) *SFTPFileSystem {
	return &SFTPFileSystem{client: client}
}

// ReadFile reads a remote file.
func (s *SFTPFileSystem) ReadFile(path string) ([]byte, error) {
	f, err := s.client.Open(path)
	if err != nil {
		return nil, notExist(path, err)
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// WriteFile creates or truncates a remote file and sets its mode.
func (s *SFTPFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := s.client.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return notExist(path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Exists reports whether the path exists.
func (s *SFTPFileSystem) Exists(path string) bool {
	_, err := s.client.Lstat(path)
	return err == nil
}

// Remove removes a file or empty directory.
func (s *SFTPFileSystem) Remove(path string) error {
	return notExist(path, s.client.Remove(path))
}

// MkdirAll creates a directory and its parents, then applies perm to the leaf.
func (s *SFTPFileSystem) MkdirAll(path string, perm os.FileMode) error {
	if err := s.client.MkdirAll(path); err != nil {
		return err
	}
	return s.client.Chmod(path, perm)
}

// Rename replaces newPath atomically using the posix-rename extension.
func (s *SFTPFileSystem) Rename(oldPath, newPath string) error {
	return notExist(oldPath, s.client.PosixRename(oldPath, newPath))
}

// notExist normalizes the SFTP "no such file" status to fs.ErrNotExist.
func notExist(path string, err error) error {
	if err == nil {
		return nil
	}
	var status *sftp.StatusError
	if errors.Is(err, fs.ErrNotExist) || (errors.As(err, &status) && status.FxCode() == sftp.ErrSSHFxNoSuchFile) {
		return fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	return err
}

var _ ports.FileSystem = (*SFTPFileSystem)(nil)
