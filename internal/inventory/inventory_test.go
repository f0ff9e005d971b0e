// SPDX-License-Identifier: MPL-2.0

package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"condamirror/internal/testutil"
	"condamirror/pkg/conda"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	respond func(args []string) ([]byte, int, error)
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, slices.Clone(args))
	f.mu.Unlock()
	if f.respond == nil {
		return []byte("[]"), 0, nil
	}
	return f.respond(args)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestProvider(t *testing.T, r Runner) *Provider {
	t.Helper()
	logger, _ := testutil.NewLogger()
	p, err := NewProvider(r, WithLogger(logger))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

const listFixture = `[
  {"name": "numpy", "version": "1.26.4", "build_string": "py311h64a7726_0", "platform": "linux-64",
   "base_url": "https://conda.anaconda.org/conda-forge/", "dist_name": "numpy-1.26.4-py311h64a7726_0", "channel": "conda-forge"},
  {"name": "ska.helpers", "version": "0.5.0", "build": "py_0", "platform": "noarch",
   "base_url": "https://icxc.cfa.harvard.edu/aspect/ska3-conda/flight"}
]`

func TestReadFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "a.json")
	second := filepath.Join(dir, "b.json")
	testutil.MustWriteFile(t, first, []byte(listFixture))
	testutil.MustWriteFile(t, second, []byte(`[{"name": "zlib", "version": "1.3", "build_string": "h0", "platform": "osx-64", "base_url": "https://x/ch"}]`))

	recs, err := ReadFiles([]string{first, second})
	if err != nil {
		t.Fatalf("ReadFiles: %v", err)
	}
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.String()
	}
	want := []string{
		"linux-64/numpy-1.26.4-py311h64a7726_0",
		"noarch/ska.helpers-0.5.0-py_0",
		"osx-64/zlib-1.3-h0",
	}
	if !slices.Equal(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}
	if recs[0].BaseURL != "https://conda.anaconda.org/conda-forge" {
		t.Errorf("trailing slash should be trimmed, got %q", recs[0].BaseURL)
	}
	if recs[1].Build != "py_0" {
		t.Errorf("build fallback not applied: %+v", recs[1])
	}
}

func TestReadFiles_ReportsAllMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	present := filepath.Join(dir, "present.json")
	testutil.MustWriteFile(t, present, []byte("[]"))
	missA := filepath.Join(dir, "a.json")
	missB := filepath.Join(dir, "b.json")

	_, err := ReadFiles([]string{missA, present, missB})
	var missing *MissingInventoryFileError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingInventoryFileError, got %v", err)
	}
	if !slices.Equal(missing.Paths, []string{missA, missB}) {
		t.Errorf("missing = %v", missing.Paths)
	}
	if !errors.Is(err, ErrMissingInventoryFile) {
		t.Error("error should wrap ErrMissingInventoryFile")
	}
}

func TestReadFiles_RejectsUnaddressableEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "list.json")
	testutil.MustWriteFile(t, path, []byte(`[
  {"name": "ok", "version": "1", "build_string": "0", "platform": "linux-64", "base_url": "https://x/ch"},
  {"name": "nobase", "version": "1", "build_string": "0", "platform": "linux-64"},
  {"name": "noplat", "version": "2", "build_string": "0", "base_url": "https://x/ch"}
]`))

	_, err := ReadFiles([]string{path})
	if !errors.Is(err, conda.ErrInvalidPackageRecord) {
		t.Fatalf("expected ErrInvalidPackageRecord, got %v", err)
	}
	for _, want := range []string{path, "entry 1", "nobase-1-0", "base_url", "entry 2", "noplat-2-0", "platform"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err, want)
		}
	}
}

func TestGet_FilesTakePrecedence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "list.json")
	testutil.MustWriteFile(t, path, []byte(listFixture))
	runner := &fakeRunner{}
	p := newTestProvider(t, runner)

	recs, err := p.Get(context.Background(), Request{InventoryFiles: []string{path}, SearchTerms: []string{"numpy"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected records from the file, got %d", len(recs))
	}
	if runner.callCount() != 0 {
		t.Error("conda must not run when inventory files are given")
	}
}

const searchNumpy = `{"numpy": [
  {"name": "numpy", "version": "1.26.4", "build": "py311h64a7726_0", "subdir": "linux-64",
   "fn": "numpy-1.26.4-py311h64a7726_0.conda", "channel": "conda-forge",
   "url": "https://conda.anaconda.org/conda-forge/linux-64/numpy-1.26.4-py311h64a7726_0.conda"},
  {"name": "numpy", "version": "1.26.4", "build": "py312heda63a1_0", "subdir": "linux-64",
   "fn": "numpy-1.26.4-py312heda63a1_0.conda", "channel": "conda-forge",
   "url": "https://conda.anaconda.org/conda-forge/linux-64/numpy-1.26.4-py312heda63a1_0.conda"},
  {"name": "numpy", "version": "2.0.0", "build": "py312h0_0", "subdir": "linux-64",
   "fn": "numpy-2.0.0-py312h0_0.conda", "channel": "conda-forge",
   "url": "https://conda.anaconda.org/conda-forge/linux-64/numpy-2.0.0-py312h0_0.conda"}
]}`

func TestSearch_SingleCandidate(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{respond: func([]string) ([]byte, int, error) { return []byte(searchNumpy), 0, nil }}
	p := newTestProvider(t, runner)

	recs, err := p.Get(context.Background(), Request{
		SearchTerms:      []string{"numpy==1.26.4=py311h64a7726_0"},
		Channels:         []string{"conda-forge"},
		OverrideChannels: true,
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %v", recs)
	}
	r := recs[0]
	if r.BaseURL != "https://conda.anaconda.org/conda-forge" || r.Platform != "linux-64" {
		t.Errorf("unexpected record %+v", r)
	}
	if r.DistName != "numpy-1.26.4-py311h64a7726_0" {
		t.Errorf("dist name = %q", r.DistName)
	}

	wantArgs := []string{"search", "--json", "-c", "conda-forge", "--override-channels", "numpy==1.26.4=py311h64a7726_0"}
	if !slices.Equal(runner.calls[0], wantArgs) {
		t.Errorf("args = %v, want %v", runner.calls[0], wantArgs)
	}
}

func TestSearch_OneQueryPerSubdir(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{respond: func([]string) ([]byte, int, error) { return nil, 1, nil }}
	p := newTestProvider(t, runner)

	recs, err := p.Get(context.Background(), Request{
		SearchTerms: []string{"a", "b"},
		Subdirs:     []string{"linux-64", "osx-arm64"},
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("non-zero exits should yield no records, got %v", recs)
	}
	if runner.callCount() != 4 {
		t.Fatalf("expected 4 queries, got %d", runner.callCount())
	}
	if !slices.Equal(runner.calls[1], []string{"search", "--json", "--subdir", "osx-arm64", "a"}) {
		t.Errorf("second query args = %v", runner.calls[1])
	}
}

func TestSearch_SameSpecOnSeveralPlatforms(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{respond: func(args []string) ([]byte, int, error) {
		i := slices.Index(args, "--subdir")
		if i < 0 || i+1 >= len(args) {
			t.Errorf("query without --subdir: %v", args)
			return nil, 1, nil
		}
		sd := args[i+1]
		out := `{"foo": [{"name": "foo", "version": "1.0", "build": "0", "subdir": "` + sd + `",
  "fn": "foo-1.0-0.tar.bz2", "channel": "forge", "url": "https://x/forge/` + sd + `/foo-1.0-0.tar.bz2"}]}`
		return []byte(out), 0, nil
	}}
	p := newTestProvider(t, runner)

	recs, err := p.Get(context.Background(), Request{
		SearchTerms: []string{"foo"},
		Subdirs:     []string{"linux-64", "osx-64"},
	})
	if err != nil {
		t.Fatalf("one candidate per platform must not be ambiguous: %v", err)
	}
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.String()
	}
	want := []string{"linux-64/foo-1.0-0", "osx-64/foo-1.0-0"}
	if !slices.Equal(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}
	for _, r := range recs {
		if r.BaseURL != "https://x/forge" {
			t.Errorf("%s: base url = %q", r, r.BaseURL)
		}
	}
}

func TestSearch_Ambiguous(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		output   string
		term     string
		contains string
	}{
		{
			name:     "several builds",
			output:   searchNumpy,
			term:     "numpy==1.26.4",
			contains: "numpy-1.26.4-py312heda63a1_0 conda-forge",
		},
		{
			name:     "several names",
			output:   `{"astropy": [], "astropy-base": []}`,
			term:     "astropy",
			contains: "astropy-base",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{respond: func([]string) ([]byte, int, error) { return []byte(tt.output), 0, nil }}
			p := newTestProvider(t, runner)

			_, err := p.Get(context.Background(), Request{SearchTerms: []string{tt.term}})
			var amb *conda.AmbiguousSpecError
			if !errors.As(err, &amb) {
				t.Fatalf("expected AmbiguousSpecError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q should list %q", err, tt.contains)
			}
		})
	}
}

func TestSearch_RunnerError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{respond: func([]string) ([]byte, int, error) { return nil, -1, ErrCondaNotFound }}
	p := newTestProvider(t, runner)

	if _, err := p.Get(context.Background(), Request{SearchTerms: []string{"numpy"}}); !errors.Is(err, ErrCondaNotFound) {
		t.Errorf("expected ErrCondaNotFound, got %v", err)
	}
}

func TestInstalled_Memoized(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{respond: func([]string) ([]byte, int, error) { return []byte(listFixture), 0, nil }}
	p := newTestProvider(t, runner)
	ctx := context.Background()

	for range 3 {
		recs, err := p.Get(ctx, Request{Channels: []string{"conda-forge"}})
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 records, got %d", len(recs))
		}
	}
	if runner.callCount() != 1 {
		t.Errorf("conda list should run once for identical options, ran %d times", runner.callCount())
	}
	if !slices.Equal(runner.calls[0], []string{"list", "--json", "-c", "conda-forge"}) {
		t.Errorf("args = %v", runner.calls[0])
	}

	if _, err := p.Get(ctx, Request{}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if runner.callCount() != 2 {
		t.Errorf("different options should run conda again, ran %d times", runner.callCount())
	}
}

func TestInstalled_ReturnsCopies(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{respond: func([]string) ([]byte, int, error) { return []byte(listFixture), 0, nil }}
	ip, err := NewInstalledProvider(runner)
	if err != nil {
		t.Fatal(err)
	}
	first, err := ip.List(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	first[0].Name = "mutated"
	second, err := ip.List(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Name != "numpy" {
		t.Error("cached records were mutated through a returned slice")
	}
}

func TestInstalled_NonZeroExit(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{respond: func([]string) ([]byte, int, error) { return nil, 2, nil }}
	ip, err := NewInstalledProvider(runner)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ip.List(context.Background(), nil); err == nil {
		t.Error("expected an error for a failing conda list")
	}
}
