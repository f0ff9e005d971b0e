// SPDX-License-Identifier: MPL-2.0

package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"testing"
)

// helperCommand re-runs the test binary as a fake conda process.
func helperCommand(exitCode int, stdout string) ExecCommandFunc {
	return func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, arg...)
		//nolint:gosec // test-only helper process
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("GO_HELPER_EXIT_CODE=%d", exitCode),
			"GO_HELPER_STDOUT=" + stdout,
		}
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("GO_HELPER_STDOUT"))
	code, _ := strconv.Atoi(os.Getenv("GO_HELPER_EXIT_CODE"))
	os.Exit(code)
}

func TestCondaRunner_Success(t *testing.T) {
	t.Parallel()

	r := NewCondaRunner("", WithExecCommand(helperCommand(0, `[{"name":"x"}]`)))
	out, code, err := r.Run(context.Background(), "list", "--json")
	if err != nil || code != 0 {
		t.Fatalf("Run = (%d, %v)", code, err)
	}
	if string(out) != `[{"name":"x"}]` {
		t.Errorf("stdout = %q", out)
	}
}

func TestCondaRunner_NonZeroExit(t *testing.T) {
	t.Parallel()

	r := NewCondaRunner("conda", WithExecCommand(helperCommand(1, "")))
	_, code, err := r.Run(context.Background(), "search", "--json", "missing")
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestCondaRunner_NotFound(t *testing.T) {
	t.Parallel()

	r := NewCondaRunner("condamirror-no-such-binary")
	_, _, err := r.Run(context.Background(), "list")
	if !errors.Is(err, ErrCondaNotFound) {
		t.Errorf("expected ErrCondaNotFound, got %v", err)
	}
}
