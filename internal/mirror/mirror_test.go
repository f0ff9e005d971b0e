// SPDX-License-Identifier: MPL-2.0

package mirror

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"condamirror/internal/testutil"
	"condamirror/pkg/conda"
)

// fakeDownloader serves the URLs in files and fails every other one.
type fakeDownloader struct {
	mu    sync.Mutex
	files map[string]string
	calls []string
	// silent reports success without writing anything.
	silent bool
}

func (f *fakeDownloader) Download(_ context.Context, rawURL, dir string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()

	body, ok := f.files[rawURL]
	if !ok {
		return "", &DownloadError{URL: rawURL, Status: 404}
	}
	target := filepath.Join(dir, path.Base(rawURL))
	if f.silent {
		return target, nil
	}
	if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
		return "", err
	}
	return target, nil
}

func (f *fakeDownloader) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

const testBase = "https://conda.example.org/forge"

func newTestMirror(d Downloader, opts ...Option) *Mirror {
	logger, _ := testutil.NewLogger()
	return New(d, append([]Option{WithLogger(logger), WithMaxParallel(2)}, opts...)...)
}

func TestRun_SkipsPresentWithoutNetwork(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(dest, "linux-64", "foo-1.0-0.conda"), []byte("cached"))

	d := &fakeDownloader{}
	rec := conda.NewRecord("foo", "1.0", "0", "linux-64", testBase)
	failures, err := newTestMirror(d).Run(context.Background(), []conda.PackageRecord{rec}, dest)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("unexpected failures: %v", failures)
	}
	if calls := d.callList(); len(calls) != 0 {
		t.Errorf("present record should not be downloaded, got %v", calls)
	}
}

func TestRun_FallsBackToConda(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	condaURL := testBase + "/noarch/bar-2.0-py_0.conda"
	d := &fakeDownloader{files: map[string]string{condaURL: "pkg"}}
	rec := conda.NewRecord("bar", "2.0", "py_0", "noarch", testBase)

	failures, err := newTestMirror(d).Run(context.Background(), []conda.PackageRecord{rec}, dest)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}

	want := []string{testBase + "/noarch/bar-2.0-py_0.tar.bz2", condaURL}
	if calls := d.callList(); !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if got := string(testutil.MustReadFile(t, filepath.Join(dest, "noarch", "bar-2.0-py_0.conda"))); got != "pkg" {
		t.Errorf("mirrored content = %q", got)
	}
	if entries, _ := os.ReadDir(dest); len(entries) != 1 || entries[0].Name() != "noarch" {
		t.Errorf("download directory should be removed, dest holds %v", entries)
	}
}

func TestRun_PrefersTarBz2(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	d := &fakeDownloader{files: map[string]string{
		testBase + "/linux-64/foo-1.0-0.tar.bz2": "tar",
		testBase + "/linux-64/foo-1.0-0.conda":   "conda",
	}}
	rec := conda.NewRecord("foo", "1.0", "0", "linux-64", testBase)

	if _, err := newTestMirror(d).Run(context.Background(), []conda.PackageRecord{rec}, dest); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if files := testutil.ListFiles(t, dest); !slices.Equal(files, []string{"linux-64/foo-1.0-0.tar.bz2"}) {
		t.Errorf("files = %v", files)
	}
}

func TestRun_CollectsFailuresInOrder(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	d := &fakeDownloader{files: map[string]string{
		testBase + "/linux-64/a-1-0.tar.bz2": "a",
		testBase + "/linux-64/c-1-0.tar.bz2": "c",
	}}
	records := []conda.PackageRecord{
		conda.NewRecord("a", "1", "0", "linux-64", testBase),
		conda.NewRecord("b", "1", "0", "linux-64", testBase),
		conda.NewRecord("c", "1", "0", "linux-64", testBase),
		conda.NewRecord("d", "1", "0", "linux-64", testBase),
	}

	failures, err := newTestMirror(d).Run(context.Background(), records, dest)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %v", failures)
	}
	if failures[0].Record.Name != "b" || failures[1].Record.Name != "d" {
		t.Errorf("failures out of order: %v", failures)
	}
	if !errors.Is(failures[0].Err, ErrDownloadFailed) {
		t.Errorf("expected ErrDownloadFailed, got %v", failures[0].Err)
	}
	if files := testutil.ListFiles(t, dest); !slices.Equal(files, []string{"linux-64/a-1-0.tar.bz2", "linux-64/c-1-0.tar.bz2"}) {
		t.Errorf("files = %v", files)
	}
}

func TestRun_MissingOutput(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	d := &fakeDownloader{
		files:  map[string]string{testBase + "/linux-64/foo-1.0-0.tar.bz2": ""},
		silent: true,
	}
	rec := conda.NewRecord("foo", "1.0", "0", "linux-64", testBase)

	failures, err := newTestMirror(d).Run(context.Background(), []conda.PackageRecord{rec}, dest)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(failures) != 1 || !errors.Is(failures[0].Err, ErrMissingOutput) {
		t.Errorf("expected one ErrMissingOutput failure, got %v", failures)
	}
}

func TestRun_AppliesURLRewrites(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     []Option
		base     string
		wantCall string
	}{
		{
			name:     "default",
			base:     "https://cxc.cfa.harvard.edu/mta/ASPECT/ska3-conda/flight",
			wantCall: "https://icxc.cfa.harvard.edu/aspect/ska3-conda/flight/linux-64/foo-1-0.tar.bz2",
		},
		{
			name:     "custom",
			opts:     []Option{WithURLRewrites([]URLRewrite{{From: "public.example", To: "mirror.example"}})},
			base:     "https://public.example/conda",
			wantCall: "https://mirror.example/conda/linux-64/foo-1-0.tar.bz2",
		},
		{
			name:     "disabled",
			opts:     []Option{WithURLRewrites(nil)},
			base:     "https://cxc.cfa.harvard.edu/mta/ASPECT/ska3-conda",
			wantCall: "https://cxc.cfa.harvard.edu/mta/ASPECT/ska3-conda/linux-64/foo-1-0.tar.bz2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := &fakeDownloader{files: map[string]string{tt.wantCall: "x"}}
			rec := conda.NewRecord("foo", "1", "0", "linux-64", tt.base)
			failures, err := newTestMirror(d, tt.opts...).Run(context.Background(), []conda.PackageRecord{rec}, t.TempDir())
			if err != nil || len(failures) != 0 {
				t.Fatalf("Run = (%v, %v)", failures, err)
			}
			if calls := d.callList(); len(calls) != 1 || calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", calls, tt.wantCall)
			}
		})
	}
}

func TestRun_DuplicateRecordsDownloadOnce(t *testing.T) {
	t.Parallel()

	d := &fakeDownloader{files: map[string]string{testBase + "/linux-64/foo-1-0.tar.bz2": "x"}}
	rec := conda.NewRecord("foo", "1", "0", "linux-64", testBase)
	if _, err := newTestMirror(d).Run(context.Background(), []conda.PackageRecord{rec, rec}, t.TempDir()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls := d.callList(); len(calls) != 1 {
		t.Errorf("calls = %v, want one", calls)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &fakeDownloader{}
	rec := conda.NewRecord("foo", "1", "0", "linux-64", testBase)
	_, err := newTestMirror(d).Run(ctx, []conda.PackageRecord{rec}, t.TempDir())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls := d.callList(); len(calls) != 0 {
		t.Errorf("no download should start, got %v", calls)
	}
}

func TestMoveFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.conda")
	dst := filepath.Join(dir, "out", "dst.conda")
	testutil.MustWriteFile(t, src, []byte("payload"))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := moveFile(src, dst); err != nil {
		t.Fatalf("moveFile: %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("source should be gone, stat err = %v", err)
	}
	if got := string(testutil.MustReadFile(t, dst)); got != "payload" {
		t.Errorf("dst = %q", got)
	}
}
