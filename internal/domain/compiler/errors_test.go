package compiler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestStepError_IsSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"duplicate", NewStepDuplicateError("a"), ErrDuplicateStep},
		{"unknown dependency", NewUnknownDependencyError("a", "b"), ErrUnknownDependency},
		{"cycle", NewCyclicDependencyError([]string{"a", "b", "a"}), ErrCyclicDependency},
		{"probe", NewProbeUnavailableError("docker", errors.New("dial")), ErrProbeUnavailable},
		{"invalid config", NewInvalidConfigError("vhost", "listen_port", "out of range"), ErrInvalidConfig},
		{"timeout", NewStepTimeoutError("a", context.DeadlineExceeded), ErrStepTimeout},
		{"apply", NewApplyFailedError("a", errors.New("x")), ErrApplyFailed},
		{"rollback", NewRollbackFailedError("a", errors.New("x")), ErrRollbackFailed},
		{"certificate", NewCertificateNotFoundError("vpn.example.com", nil), ErrCertificateNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
			if errors.Is(wrapped, ErrRollbackFailed) && tt.sentinel != ErrRollbackFailed {
				t.Errorf("error should not match unrelated sentinel")
			}
		})
	}
}

func TestStepError_Format(t *testing.T) {
	err := NewApplyFailedError("apt:package:nginx", errors.New("exit status 100"))
	out := err.Format()

	for _, want := range []string{"[APPLY_FAILED]", "Step: apt:package:nginx", "Cause: exit status 100", "Suggestion:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q in %q", want, out)
		}
	}
}

func TestAsApplyError(t *testing.T) {
	invalid := NewInvalidConfigError("firewall", "port", "out of range")
	got := AsApplyError("firewall:rules", invalid)
	if got.Code != ErrCodeInvalidConfig || got.StepID != "firewall:rules" {
		t.Errorf("AsApplyError() = %+v, want invalid config bound to step", got)
	}

	timeout := AsApplyError("a", fmt.Errorf("run: %w", context.DeadlineExceeded))
	if timeout.Code != ErrCodeStepTimeout {
		t.Errorf("deadline should map to %s, got %s", ErrCodeStepTimeout, timeout.Code)
	}

	generic := AsApplyError("a", errors.New("boom"))
	if generic.Code != ErrCodeApplyFailed {
		t.Errorf("generic error should map to %s, got %s", ErrCodeApplyFailed, generic.Code)
	}
}

func TestRemediationHint(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fs.ErrPermission, "elevated privileges"},
		{errors.New("E: Could not open lock file - open (13: Permission denied)"), "elevated privileges"},
		{errors.New("Temporary failure in name resolution"), "network"},
		{errors.New("E: Could not get lock /var/lib/dpkg/lock-frontend"), "package manager"},
		{context.Canceled, "cancelled"},
		{errors.New("something else"), "rerun"},
	}
	for _, tt := range tests {
		if got := RemediationHint(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("RemediationHint(%v) = %q, want to contain %q", tt.err, got, tt.want)
		}
	}
}
