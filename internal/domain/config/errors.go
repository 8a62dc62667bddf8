package config

import (
	"fmt"
	"strings"
)

// Error codes carried by UserError.
const (
	ErrCodeConfigNotFound   = "CONFIG_NOT_FOUND"
	ErrCodeConfigParse      = "CONFIG_PARSE"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// UserError is a configuration problem the operator can fix: a missing
// file, bad YAML, or a field that fails validation.
type UserError struct {
	Code       string
	Message    string
	Context    string // file path or field, e.g. "firewall.rules[2].port"
	Suggestion string
	Underlying error
}

func (e *UserError) Error() string {
	if e.Context == "" {
		return e.Message
	}
	return e.Message + " (at " + e.Context + ")"
}

func (e *UserError) Unwrap() error {
	return e.Underlying
}

// Is matches another UserError by code, so callers can test
// errors.Is(err, &UserError{Code: ErrCodeConfigParse}).
func (e *UserError) Is(target error) bool {
	t, ok := target.(*UserError)
	return ok && t.Code == e.Code
}

// Format renders every detail, one per line.
func (e *UserError) Format() string {
	lines := []string{fmt.Sprintf("[%s] %s", e.Code, e.Message)}
	if e.Context != "" {
		lines = append(lines, "  Location: "+e.Context)
	}
	if e.Suggestion != "" {
		lines = append(lines, "  Suggestion: "+e.Suggestion)
	}
	if e.Underlying != nil {
		lines = append(lines, "  Cause: "+e.Underlying.Error())
	}
	return strings.Join(lines, "\n")
}

// NewConfigNotFoundError reports a missing host file.
func NewConfigNotFoundError(path string) *UserError {
	return &UserError{
		Code:       ErrCodeConfigNotFound,
		Message:    "configuration file not found",
		Context:    path,
		Suggestion: "Create provision.yaml or pass --config with the path to your host file.",
	}
}

// NewYAMLParseError reports a host file that does not decode into the schema.
func NewYAMLParseError(path string, err error) *UserError {
	return &UserError{
		Code:       ErrCodeConfigParse,
		Message:    "configuration file could not be parsed",
		Context:    path,
		Suggestion: "Check indentation and field names; unknown fields are rejected.",
		Underlying: err,
	}
}

// ErrorList collects every validation problem of a host file so they are
// reported together rather than one per run.
type ErrorList struct {
	errs []*UserError
}

func NewErrorList() *ErrorList {
	return &ErrorList{}
}

// AddValidation records that field failed validation.
func (l *ErrorList) AddValidation(field, message, suggestion string) {
	l.errs = append(l.errs, &UserError{
		Code:       ErrCodeValidationFailed,
		Message:    field + ": " + message,
		Context:    field,
		Suggestion: suggestion,
	})
}

func (l *ErrorList) HasErrors() bool {
	return len(l.errs) > 0
}

// Errors returns a copy of the collected errors in the order they were found.
func (l *ErrorList) Errors() []*UserError {
	return append([]*UserError(nil), l.errs...)
}

func (l *ErrorList) Error() string {
	if len(l.errs) == 1 {
		return l.errs[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "configuration has %d problems:\n", len(l.errs))
	for _, err := range l.errs {
		b.WriteString("  - " + err.Error() + "\n")
	}
	return b.String()
}

func (l *ErrorList) Unwrap() []error {
	out := make([]error, 0, len(l.errs))
	for _, err := range l.errs {
		out = append(out, err)
	}
	return out
}

// ErrorOrNil returns nil for an empty list, so a typed nil never escapes as
// a non-nil error.
func (l *ErrorList) ErrorOrNil() error {
	if len(l.errs) == 0 {
		return nil
	}
	return l
}
