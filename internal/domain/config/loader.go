package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader loads host configuration from the filesystem.
type Loader struct{}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads, defaults and validates the host file at path.
func (l *Loader) Load(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigNotFoundError(path)
		}
		return nil, err
	}

	host, err := Parse(data)
	if err != nil {
		var list *ErrorList
		if errors.As(err, &list) {
			return nil, err
		}
		return nil, NewYAMLParseError(path, err)
	}
	return host, nil
}

// Parse decodes a host file, applies defaults and validates the result.
// Unknown fields are rejected so typos do not silently disable a section.
func Parse(data []byte) (*HostConfig, error) {
	var raw HostConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	host := raw.WithDefaults()
	if err := Validate(&host).ErrorOrNil(); err != nil {
		return nil, err
	}
	return &host, nil
}
