package compiler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Error codes for provisioning failures.
const (
	ErrCodeStepDuplicate       = "DUPLICATE_STEP"
	ErrCodeCyclicDependency    = "CYCLIC_DEPENDENCY"
	ErrCodeUnknownDependency   = "UNKNOWN_DEPENDENCY"
	ErrCodeProbeUnavailable    = "PROBE_UNAVAILABLE"
	ErrCodeInvalidConfig       = "INVALID_CONFIG"
	ErrCodeStepTimeout         = "STEP_TIMEOUT"
	ErrCodeApplyFailed         = "APPLY_FAILED"
	ErrCodeRollbackFailed      = "ROLLBACK_FAILED"
	ErrCodeCertificateNotFound = "CERTIFICATE_NOT_FOUND"
)

// Sentinels for errors.Is matching against *StepError codes.
var (
	ErrDuplicateStep       = errors.New("step with this ID already exists")
	ErrCyclicDependency    = errors.New("cyclic dependency detected")
	ErrUnknownDependency   = errors.New("step depends on nonexistent step")
	ErrProbeUnavailable    = errors.New("state probe unavailable")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrStepTimeout         = errors.New("step timed out")
	ErrApplyFailed         = errors.New("step apply failed")
	ErrRollbackFailed      = errors.New("step rollback failed")
	ErrCertificateNotFound = errors.New("certificate not found")
)

var sentinelCodes = map[error]string{
	ErrDuplicateStep:       ErrCodeStepDuplicate,
	ErrCyclicDependency:    ErrCodeCyclicDependency,
	ErrUnknownDependency:   ErrCodeUnknownDependency,
	ErrProbeUnavailable:    ErrCodeProbeUnavailable,
	ErrInvalidConfig:       ErrCodeInvalidConfig,
	ErrStepTimeout:         ErrCodeStepTimeout,
	ErrApplyFailed:         ErrCodeApplyFailed,
	ErrRollbackFailed:      ErrCodeRollbackFailed,
	ErrCertificateNotFound: ErrCodeCertificateNotFound,
}

// StepError represents a user-friendly provisioning error with an actionable suggestion.
type StepError struct {
	Code       string // Error code for categorization
	Message    string // User-friendly error message
	StepID     string // Step ID if applicable
	Suggestion string // Actionable suggestion to fix the error
	Underlying error  // Wrapped error for error chain
}

// Error returns the formatted error message.
func (e *StepError) Error() string {
	msg := e.Message
	if e.StepID != "" {
		msg = fmt.Sprintf("step %q: %s", e.StepID, e.Message)
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain support.
func (e *StepError) Unwrap() error {
	return e.Underlying
}

// Is matches the sentinel that corresponds to this error's code.
func (e *StepError) Is(target error) bool {
	for sentinel, code := range sentinelCodes {
		if target == sentinel {
			return e.Code == code
		}
	}
	if t, ok := target.(*StepError); ok {
		return e.Code == t.Code
	}
	return false
}

// Format returns a fully formatted error with all details.
func (e *StepError) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.StepID != "" {
		fmt.Fprintf(&b, "\n  Step: %s", e.StepID)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n  Suggestion: %s", e.Suggestion)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, "\n  Cause: %s", e.Underlying.Error())
	}
	return b.String()
}

// WithStepID returns a copy of the error bound to a step.
func (e *StepError) WithStepID(stepID string) *StepError {
	c := *e
	c.StepID = stepID
	return &c
}

// NewStepDuplicateError creates an error for a duplicate step ID.
func NewStepDuplicateError(stepID string) *StepError {
	return &StepError{
		Code:       ErrCodeStepDuplicate,
		Message:    "step with this ID is already registered",
		StepID:     stepID,
		Suggestion: "Each step needs a unique name. Check for the same package, rule or command declared twice.",
	}
}

// NewUnknownDependencyError creates an error for a dependency on a step that was never registered.
func NewUnknownDependencyError(stepID, dependsOn string) *StepError {
	return &StepError{
		Code:       ErrCodeUnknownDependency,
		Message:    fmt.Sprintf("depends on %q which is not registered", dependsOn),
		StepID:     stepID,
		Suggestion: "Declare the missing step or remove it from depends_on.",
	}
}

// NewCyclicDependencyError creates an error naming the steps that form a cycle.
func NewCyclicDependencyError(cycle []string) *StepError {
	return &StepError{
		Code:       ErrCodeCyclicDependency,
		Message:    "cyclic dependency detected: " + strings.Join(cycle, " → "),
		Suggestion: "Review depends_on entries to break the circular chain.",
	}
}

// NewProbeUnavailableError reports that live state could not be queried.
func NewProbeUnavailableError(what string, err error) *StepError {
	return &StepError{
		Code:       ErrCodeProbeUnavailable,
		Message:    "cannot query " + what,
		Suggestion: "Make sure the service is reachable and rerun; the plan was stopped because prior state is unknown.",
		Underlying: err,
	}
}

// NewInvalidConfigError reports a constraint violation in a typed configuration.
func NewInvalidConfigError(kind, field, reason string) *StepError {
	msg := fmt.Sprintf("%s: %s", kind, reason)
	if field != "" {
		msg = fmt.Sprintf("%s: field %s: %s", kind, field, reason)
	}
	return &StepError{
		Code:       ErrCodeInvalidConfig,
		Message:    msg,
		Suggestion: "Fix the value in provision.yaml and rerun.",
	}
}

// NewStepTimeoutError reports an apply that exceeded its deadline.
func NewStepTimeoutError(stepID string, err error) *StepError {
	return &StepError{
		Code:       ErrCodeStepTimeout,
		Message:    "step exceeded its timeout",
		StepID:     stepID,
		Suggestion: "Raise settings.step_timeout or check for a hung package manager or network.",
		Underlying: err,
	}
}

// NewApplyFailedError creates an error for a failed step apply.
func NewApplyFailedError(stepID string, err error) *StepError {
	return &StepError{
		Code:       ErrCodeApplyFailed,
		Message:    "step failed to apply",
		StepID:     stepID,
		Suggestion: RemediationHint(err),
		Underlying: err,
	}
}

// NewRollbackFailedError records a rollback that could not complete.
func NewRollbackFailedError(stepID string, err error) *StepError {
	return &StepError{
		Code:       ErrCodeRollbackFailed,
		Message:    "rollback did not complete",
		StepID:     stepID,
		Suggestion: "Inspect the host manually; the step may be partially applied.",
		Underlying: err,
	}
}

// NewCertificateNotFoundError reports a missing certificate for a domain.
func NewCertificateNotFoundError(domain string, err error) *StepError {
	return &StepError{
		Code:       ErrCodeCertificateNotFound,
		Message:    fmt.Sprintf("no certificate found for %q", domain),
		Suggestion: "Issue a certificate for the domain (for example with certbot) before provisioning the reverse proxy.",
		Underlying: err,
	}
}

// AsApplyError normalizes an apply error into the taxonomy.
// Errors that already carry a code keep it; anything else becomes APPLY_FAILED.
func AsApplyError(stepID string, err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		if se.StepID == "" {
			return se.WithStepID(stepID)
		}
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewStepTimeoutError(stepID, err)
	}
	return NewApplyFailedError(stepID, err)
}

// RemediationHint suggests a fix for common failure causes.
func RemediationHint(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, fs.ErrPermission),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "are you root"),
		strings.Contains(msg, "operation not permitted"):
		return "Rerun with elevated privileges (sudo)."
	case strings.Contains(msg, "could not resolve"),
		strings.Contains(msg, "temporary failure in name resolution"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "network is unreachable"):
		return "Check network connectivity and DNS, then rerun."
	case strings.Contains(msg, "could not get lock"),
		strings.Contains(msg, "dpkg was interrupted"):
		return "Another package manager is running; wait for it or run 'dpkg --configure -a'."
	case errors.Is(err, context.Canceled):
		return "The run was cancelled; rerun to continue from the current state."
	default:
		return "Check the error details and rerun; satisfied steps will be skipped."
	}
}
