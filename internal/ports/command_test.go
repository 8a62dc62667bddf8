package ports_test

import (
	"context"
	"testing"

	"github.com/felixgeelhaar/provision/internal/ports"
	"github.com/felixgeelhaar/provision/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandResult_Err(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ports.CommandResult{ExitCode: 0}.Err("true"))

	err := ports.CommandResult{ExitCode: 100, Stderr: "E: Unable to locate package nope\n"}.Err("apt-get", "install", "nope")
	require.Error(t, err)
	assert.Equal(t, "apt-get install nope: exit 100: E: Unable to locate package nope", err.Error())
}

func TestShell(t *testing.T) {
	t.Parallel()

	runner := mocks.NewCommandRunner()
	runner.AddResult("sh", []string{"-c", "exit 3"}, ports.CommandResult{ExitCode: 3, Stdout: "partial"})
	runner.AddResult("sh", []string{"-c", "echo ok"}, ports.CommandResult{Stdout: "ok\n"})

	_, err := ports.Shell(context.Background(), runner, "exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit 3: partial")

	result, err := ports.Shell(context.Background(), runner, "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", result.Stdout)
}
