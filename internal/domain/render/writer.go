package render

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sync"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// Backup is what a path held before a write, enough to put it back.
type Backup struct {
	Path    string
	Existed bool
	Content []byte
}

// WriteResult reports what a write did.
type WriteResult struct {
	Changed bool
	Backup  Backup
}

// Writer writes artifacts through a FileSystem. Writes to the same path are
// serialized, so steps running concurrently can share one file.
type Writer struct {
	fs    ports.FileSystem
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter creates a Writer over fs.
func NewWriter(fs ports.FileSystem) *Writer {
	return &Writer{fs: fs, locks: make(map[string]*sync.Mutex)}
}

// FileSystem returns the underlying filesystem.
func (w *Writer) FileSystem() ports.FileSystem {
	return w.fs
}

func (w *Writer) lock(p string) func() {
	w.mu.Lock()
	l, ok := w.locks[p]
	if !ok {
		l = &sync.Mutex{}
		w.locks[p] = l
	}
	w.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Read returns the current content of p; exists is false when the file is absent.
func (w *Writer) Read(p string) (content []byte, exists bool, err error) {
	unlock := w.lock(p)
	defer unlock()
	return w.read(p)
}

func (w *Writer) read(p string) ([]byte, bool, error) {
	data, err := w.fs.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Write stores the artifact at p. Identical content is left untouched.
func (w *Writer) Write(p string, art Artifact, perm os.FileMode) (WriteResult, error) {
	unlock := w.lock(p)
	defer unlock()
	return w.write(p, art.Bytes(), perm)
}

// Update performs a read-modify-write of p under its lock. build receives the
// current content (nil when absent) and returns the artifact to store.
func (w *Writer) Update(p string, perm os.FileMode, build func(current []byte, exists bool) (Artifact, error)) (WriteResult, error) {
	unlock := w.lock(p)
	defer unlock()

	current, exists, err := w.read(p)
	if err != nil {
		return WriteResult{}, fmt.Errorf("read %s: %w", p, err)
	}
	art, err := build(current, exists)
	if err != nil {
		return WriteResult{}, err
	}
	return w.write(p, art.Bytes(), perm)
}

func (w *Writer) write(p string, data []byte, perm os.FileMode) (WriteResult, error) {
	current, exists, err := w.read(p)
	if err != nil {
		return WriteResult{}, fmt.Errorf("read %s: %w", p, err)
	}
	backup := Backup{Path: p, Existed: exists, Content: current}
	if exists && bytes.Equal(current, data) {
		return WriteResult{Changed: false, Backup: backup}, nil
	}

	if err := w.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create %s: %w", path.Dir(p), err)
	}
	tmp := p + ".provision-tmp"
	if err := w.fs.WriteFile(tmp, data, perm); err != nil {
		return WriteResult{}, fmt.Errorf("write %s: %w", p, err)
	}
	if err := w.fs.Rename(tmp, p); err != nil {
		_ = w.fs.Remove(tmp)
		return WriteResult{}, fmt.Errorf("replace %s: %w", p, err)
	}
	return WriteResult{Changed: true, Backup: backup}, nil
}

// Restore puts a path back to the state recorded in backup.
func (w *Writer) Restore(backup Backup, perm os.FileMode) error {
	unlock := w.lock(backup.Path)
	defer unlock()

	if !backup.Existed {
		err := w.fs.Remove(backup.Path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", backup.Path, err)
		}
		return nil
	}
	_, err := w.write(backup.Path, backup.Content, perm)
	return err
}
