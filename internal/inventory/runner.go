// SPDX-License-Identifier: MPL-2.0

package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCondaNotFound is returned when the conda executable cannot be started.
var ErrCondaNotFound = errors.New("conda executable not found")

type (
	// Runner executes the conda CLI. A non-zero exit is reported through
	// exitCode, not err; err is reserved for failures to run at all.
	Runner interface {
		Run(ctx context.Context, args ...string) (stdout []byte, exitCode int, err error)
	}

	// ExecCommandFunc is the function signature for creating exec.Cmd.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// CondaRunner runs a conda binary as a child process.
	CondaRunner struct {
		binary      string
		execCommand ExecCommandFunc
	}

	// RunnerOption configures a CondaRunner.
	RunnerOption func(*CondaRunner)
)

// WithExecCommand replaces process creation, for tests.
func WithExecCommand(fn ExecCommandFunc) RunnerOption {
	return func(r *CondaRunner) {
		r.execCommand = fn
	}
}

// NewCondaRunner returns a Runner for binary ("conda" when empty).
func NewCondaRunner(binary string, opts ...RunnerOption) *CondaRunner {
	if binary == "" {
		binary = "conda"
	}
	r := &CondaRunner{
		binary:      binary,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes conda with args, capturing stdout. Stderr is folded into the
// error only when the process could not be run.
func (r *CondaRunner) Run(ctx context.Context, args ...string) ([]byte, int, error) {
	cmd := r.execCommand(ctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), exitErr.ExitCode(), nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, -1, fmt.Errorf("%w: %s", ErrCondaNotFound, r.binary)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, -1, fmt.Errorf("%s %s: %w", r.binary, strings.Join(args, " "), ctxErr)
	}
	return nil, -1, fmt.Errorf("%s %s: %w: %s", r.binary, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
}
