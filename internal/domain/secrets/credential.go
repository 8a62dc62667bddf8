// Package secrets issues and keeps the credentials rendered configs refer to.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Kind is the shape of a credential value.
type Kind string

// Credential kinds.
const (
	// KindClientID is a UUID client identifier.
	KindClientID Kind = "client-id"
	// KindAccessKey is a URL-safe random token.
	KindAccessKey Kind = "access-key"
)

// Credential is a secret issued for one step.
type Credential struct {
	ID         string    `toml:"id"`
	Kind       Kind      `toml:"kind"`
	CreatedFor string    `toml:"created_for"`
	Value      string    `toml:"value"`
	CreatedAt  time.Time `toml:"created_at"`
	// Pending marks a rotated value that no apply has rolled out yet.
	Pending bool `toml:"pending,omitempty"`
}

// IsZero reports whether the credential is unset.
func (c Credential) IsZero() bool {
	return c.Value == ""
}

// NewClientID returns a UUID-formatted identifier built from 16 bytes of r,
// keeping all 128 bits random.
func NewClientID(r io.Reader) (string, error) {
	var b [16]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewAccessKey returns a base64url token of 32 random bytes.
func NewAccessKey(r io.Reader) (string, error) {
	var b [32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func newValue(kind Kind, r io.Reader) (string, error) {
	switch kind {
	case KindClientID:
		return NewClientID(r)
	case KindAccessKey:
		return NewAccessKey(r)
	}
	return "", fmt.Errorf("unknown credential kind %q", kind)
}

var defaultRandom io.Reader = rand.Reader
