package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/felixgeelhaar/provision/internal/ports"
)

// Store persists credentials by step name.
type Store interface {
	Get(stepName string) (Credential, bool, error)
	Put(cred Credential) error
	List() ([]Credential, error)
}

type credentialFile struct {
	Credentials map[string]Credential `toml:"credentials"`
}

// FileStore keeps credentials in a TOML file readable only by its owner.
type FileStore struct {
	fs   ports.FileSystem
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore at path on fs.
func NewFileStore(fs ports.FileSystem, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Path returns the store location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() (credentialFile, error) {
	file := credentialFile{Credentials: map[string]Credential{}}
	data, err := s.fs.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return file, nil
	}
	if err != nil {
		return file, fmt.Errorf("read credentials %s: %w", s.path, err)
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse credentials %s: %w", s.path, err)
	}
	if file.Credentials == nil {
		file.Credentials = map[string]Credential{}
	}
	return file, nil
}

// Get returns the credential for stepName.
func (s *FileStore) Get(stepName string) (Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return Credential{}, false, err
	}
	cred, ok := file.Credentials[stepName]
	return cred, ok, nil
}

// Put stores cred under its CreatedFor step, replacing any previous one.
func (s *FileStore) Put(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	file.Credentials[cred.CreatedFor] = cred

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := s.fs.MkdirAll(path.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", path.Dir(s.path), err)
	}
	if err := s.fs.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials %s: %w", s.path, err)
	}
	return nil
}

// List returns every stored credential ordered by step name.
func (s *FileStore) List() ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Credential, 0, len(file.Credentials))
	for _, cred := range file.Credentials {
		out = append(out, cred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedFor < out[j].CreatedFor })
	return out, nil
}

var _ Store = (*FileStore)(nil)
