package mocks

import (
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// FileSystem is a thread-safe in-memory ports.FileSystem.
type FileSystem struct {
	mu         sync.RWMutex
	files      map[string][]byte
	modes      map[string]os.FileMode
	dirs       map[string]bool
	writes     map[string]int
	readErrs   map[string]error
	writeErrs  map[string]error
	totalWrite int
}

// NewFileSystem creates a new FileSystem mock.
func NewFileSystem() *FileSystem {
	return &FileSystem{
		files:     make(map[string][]byte),
		modes:     make(map[string]os.FileMode),
		dirs:      make(map[string]bool),
		writes:    make(map[string]int),
		readErrs:  make(map[string]error),
		writeErrs: make(map[string]error),
	}
}

// AddFile seeds a file without counting it as a write.
func (m *FileSystem) AddFile(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = []byte(content)
}

// FailRead makes ReadFile on path return err.
func (m *FileSystem) FailRead(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs[path] = err
}

// FailWrite makes WriteFile on path return err.
func (m *FileSystem) FailWrite(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrs[path] = err
}

// Content returns the file content and whether it exists.
func (m *FileSystem) Content(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	return string(data), ok
}

// Mode returns the permissions last written for path.
func (m *FileSystem) Mode(path string) os.FileMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modes[path]
}

// Writes returns how many times path was written.
func (m *FileSystem) Writes(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[path]
}

// TotalWrites returns the number of writes across all paths.
func (m *FileSystem) TotalWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalWrite
}

// ReadFile returns an error wrapping fs.ErrNotExist for unknown paths.
func (m *FileSystem) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.readErrs[path]; ok {
		return nil, err
	}
	data, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFile stores data and counts the write.
func (m *FileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.writeErrs[path]; ok {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[path] = buf
	m.modes[path] = perm
	m.writes[path]++
	m.totalWrite++
	return nil
}

// Exists reports whether a file or directory exists.
func (m *FileSystem) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isFile := m.files[path]
	return isFile || m.dirs[path]
}

// Remove deletes a file or directory.
func (m *FileSystem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		delete(m.files, path)
		delete(m.modes, path)
		return nil
	}
	if m.dirs[path] {
		delete(m.dirs, path)
		return nil
	}
	return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
}

// MkdirAll records a directory.
func (m *FileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	return nil
}

// Rename moves a file.
func (m *FileSystem) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[oldPath]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldPath, fs.ErrNotExist)
	}
	m.files[newPath] = data
	m.modes[newPath] = m.modes[oldPath]
	delete(m.files, oldPath)
	delete(m.modes, oldPath)
	return nil
}

var _ ports.FileSystem = (*FileSystem)(nil)
