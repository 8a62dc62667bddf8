package ports

import "os"

// FileSystem provides the file operations steps need on the target host.
// ReadFile must return an error wrapping fs.ErrNotExist for a missing file so
// callers can tell "absent" apart from "unreadable".
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Exists(path string) bool
	Remove(path string) error
	MkdirAll(path string, perm os.FileMode) error
	Rename(oldPath, newPath string) error
}
