package compiler

import (
	"errors"
	"regexp"
	"strings"
)

// StepID uniquely identifies a step within a plan.
// Format: kind:action:resource (e.g., "apt:package:nginx", "firewall:rule:443-tcp").
type StepID struct {
	value string
}

// Errors for StepID validation.
var (
	ErrEmptyStepID   = errors.New("step ID cannot be empty")
	ErrInvalidStepID = errors.New("step ID format invalid: must be alphanumeric with colons, dots, hyphens, underscores, or slashes")
)

// Segments are colon separated and non-empty. A segment starts with an
// alphanumeric character or a slash, so absolute paths can name resources.
var stepIDPattern = regexp.MustCompile(`^[a-zA-Z0-9/][a-zA-Z0-9_./-]*(?::[a-zA-Z0-9/][a-zA-Z0-9_./-]*)*$`)

// NewStepID creates a new StepID from a string.
func NewStepID(value string) (StepID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return StepID{}, ErrEmptyStepID
	}
	if !stepIDPattern.MatchString(trimmed) {
		return StepID{}, ErrInvalidStepID
	}
	return StepID{value: trimmed}, nil
}

// MustNewStepID creates a new StepID, panicking on error.
// Use this for IDs assembled from already validated configuration.
func MustNewStepID(value string) StepID {
	id, err := NewStepID(value)
	if err != nil {
		panic("invalid step ID: " + value + ": " + err.Error())
	}
	return id
}

// String returns the string representation.
func (id StepID) String() string {
	return id.value
}

// Kind extracts the first segment (e.g., "apt" for "apt:package:nginx").
func (id StepID) Kind() string {
	kind, _, _ := strings.Cut(id.value, ":")
	return kind
}

// IsZero returns true if this is a zero-value StepID.
func (id StepID) IsZero() bool {
	return id.value == ""
}

// StepIDs converts string names into StepIDs, failing on the first invalid one.
func StepIDs(names ...string) ([]StepID, error) {
	ids := make([]StepID, 0, len(names))
	for _, name := range names {
		id, err := NewStepID(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
