// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"condamirror/internal/patchstore"
	"condamirror/pkg/patch"
)

func savePatches(t *testing.T, dir string, enc patchstore.Encoding, store patch.Store) {
	t.Helper()
	err := patchstore.New().Save(context.Background(), store, dir, patchstore.SaveOptions{
		IfExists: patchstore.PolicyOverwrite,
		Encoding: enc,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func docWith(key, value string) *patch.Document {
	doc := patch.NewDocument()
	doc.Put(patch.KeyPackages, key, patch.Fragment(value))
	return doc
}

func TestMerge_ArgumentOrder(t *testing.T) {
	t.Parallel()

	a, b, out := t.TempDir(), t.TempDir(), t.TempDir()
	savePatches(t, a, patchstore.EncodingExpanded, patch.Store{
		"linux-64": docWith("foo-1.0-0.tar.bz2", `{"v":1}`),
	})
	savePatches(t, b, patchstore.EncodingArchived, patch.Store{
		"linux-64": docWith("foo-1.0-0.tar.bz2", `{"v":2}`),
		"noarch":   docWith("bar-2.0-py_0.tar.bz2", `{"license":"MIT"}`),
	})

	stdout, stderr, err := execute(t, Dependencies{}, "merge", a, b, "-o", out, "--no-archive")
	if err != nil {
		t.Fatalf("merge: %v\nstderr: %s", err, stderr)
	}

	merged, err := patchstore.New().Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := string(merged["linux-64"].Packages["foo-1.0-0.tar.bz2"]); got != `{"v":2}` {
		t.Errorf("the last source should win, got %s", got)
	}
	if merged["noarch"] == nil {
		t.Error("noarch platform missing from merge")
	}
	if want := "Merged 2 source(s) into 2 platform(s)"; !strings.Contains(stdout, want) {
		t.Errorf("stdout %q does not contain %q", stdout, want)
	}
}

func TestMerge_ConflictPolicyError(t *testing.T) {
	t.Parallel()

	src, out := t.TempDir(), t.TempDir()
	savePatches(t, src, patchstore.EncodingExpanded, patch.Store{"linux-64": docWith("foo-1.0-0.tar.bz2", `{}`)})
	savePatches(t, out, patchstore.EncodingExpanded, patch.Store{"linux-64": docWith("old-1.0-0.tar.bz2", `{}`)})

	_, _, err := execute(t, Dependencies{}, "merge", src, "-o", out, "--no-archive", "--if-exists", "error")

	var conflict *patchstore.PersistenceConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected PersistenceConflictError, got %v", err)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitFailure {
		t.Errorf("expected exit code %d, got %v", ExitFailure, err)
	}
}

func TestMerge_UnsupportedSource(t *testing.T) {
	t.Parallel()

	_, _, err := execute(t, Dependencies{}, "merge", "merge_test.go", "-o", t.TempDir())
	if !errors.Is(err, patchstore.ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource, got %v", err)
	}
}

func TestMerge_RequiresSource(t *testing.T) {
	t.Parallel()

	if _, _, err := execute(t, Dependencies{}, "merge"); err == nil {
		t.Fatal("merge without sources should fail")
	}
}
