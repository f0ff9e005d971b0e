// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"condamirror/internal/testutil"
	"condamirror/pkg/conda"
	"condamirror/pkg/patch"
)

// upstream serves patch documents keyed by request path and counts hits.
type upstream struct {
	mu   sync.Mutex
	docs map[string]string
	hits map[string]int
}

func newUpstream(t *testing.T, docs map[string]string) (*upstream, *httptest.Server) {
	t.Helper()
	u := &upstream{docs: docs, hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.hits[r.URL.Path]++
		u.mu.Unlock()
		body, ok := u.docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return u, srv
}

func (u *upstream) hitCount(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

func newTestFetcher(t *testing.T, srv *httptest.Server) (*Fetcher, *testutil.LogBuffer) {
	t.Helper()
	logger, buf := testutil.NewLogger()
	return New(WithHTTPClient(srv.Client()), WithLogger(logger), WithMaxParallel(2)), buf
}

const forgeLinux = `{
  "packages": {
    "foo-1.0-0.tar.bz2": {"depends": ["python >=3.8"]},
    "bar-2.0-1.conda": {"license": "MIT"},
    "unrelated-1-0.tar.bz2": {"x": 1}
  },
  "packages.conda": {"baz-3.0-2.conda": {"depends": []}},
  "remove": ["gone-1-0.tar.bz2"],
  "revoke": [],
  "patch_instructions_version": 1
}`

func TestFetch_CollectsMatchingEntries(t *testing.T) {
	t.Parallel()

	up, srv := newUpstream(t, map[string]string{
		"/forge/linux-64/patch_instructions.json": forgeLinux,
	})
	f, _ := newTestFetcher(t, srv)

	inventory := []conda.PackageRecord{
		conda.NewRecord("foo", "1.0", "0", "linux-64", srv.URL+"/forge"),
		conda.NewRecord("bar", "2.0", "1", "linux-64", srv.URL+"/forge"),
		conda.NewRecord("baz", "3.0", "2", "linux-64", srv.URL+"/forge/"),
		conda.NewRecord("nopatch", "1", "0", "linux-64", srv.URL+"/forge"),
		conda.NewRecord("qux", "1", "0", "noarch", srv.URL+"/forge"),
	}

	res, err := f.Fetch(context.Background(), nil, inventory)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	linux := res.Store["linux-64"]
	if linux == nil {
		t.Fatal("linux-64 document missing")
	}
	if len(linux.Packages) != 2 || linux.Packages["foo-1.0-0.tar.bz2"] == nil || linux.Packages["bar-2.0-1.conda"] == nil {
		t.Errorf("packages = %v", linux.Packages)
	}
	if len(linux.PackagesConda) != 1 || linux.PackagesConda["baz-3.0-2.conda"] == nil {
		t.Errorf("packages.conda = %v", linux.PackagesConda)
	}
	if linux.Remove.Len() != 0 {
		t.Errorf("remove should not be copied from upstream, got %v", linux.Remove.Sorted())
	}
	if v, ok := linux.Version(); !ok || v != 1 {
		t.Errorf("version = %d (%v), want 1", v, ok)
	}
	if _, ok := res.Store["noarch"]; ok {
		t.Error("a platform with no upstream document should not appear")
	}

	if n := up.hitCount("/forge/linux-64/patch_instructions.json"); n != 1 {
		t.Errorf("endpoint should be fetched once, got %d", n)
	}
	if !res.Endpoints[srv.URL+"/forge/linux-64"] || res.Endpoints[srv.URL+"/forge/noarch"] {
		t.Errorf("endpoints = %v", res.Endpoints)
	}
}

func TestFetch_VersionMismatchWarnsOnce(t *testing.T) {
	t.Parallel()

	_, srv := newUpstream(t, map[string]string{
		"/a/linux-64/patch_instructions.json": `{"packages": {"x-1-0.tar.bz2": {}}, "patch_instructions_version": 3}`,
		"/b/linux-64/patch_instructions.json": `{"packages": {"y-1-0.tar.bz2": {}}, "patch_instructions_version": 4}`,
	})
	f, logs := newTestFetcher(t, srv)

	inventory := []conda.PackageRecord{
		conda.NewRecord("x", "1", "0", "linux-64", srv.URL+"/a"),
		conda.NewRecord("y", "1", "0", "linux-64", srv.URL+"/b"),
	}
	res, err := f.Fetch(context.Background(), nil, inventory)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v, _ := res.Store["linux-64"].Version(); v != 4 {
		t.Errorf("version = %d, want 4", v)
	}
	if len(res.Mismatches) != 1 {
		t.Fatalf("mismatches = %v", res.Mismatches)
	}
	if n := logs.Count("patch_instructions_version mismatch"); n != 1 {
		t.Errorf("expected one warning, got %d:\n%s", n, logs.String())
	}
}

func TestFetch_FailingEndpointsContributeNothing(t *testing.T) {
	t.Parallel()

	_, srv := newUpstream(t, map[string]string{
		"/ok/osx-64/patch_instructions.json":     `{"packages": {"a-1-0.tar.bz2": {"k": 1}}}`,
		"/broken/osx-64/patch_instructions.json": `{"packages": `,
	})
	f, logs := newTestFetcher(t, srv)

	inventory := []conda.PackageRecord{
		conda.NewRecord("a", "1", "0", "osx-64", srv.URL+"/ok"),
		conda.NewRecord("b", "1", "0", "osx-64", srv.URL+"/broken"),
		conda.NewRecord("c", "1", "0", "osx-64", srv.URL+"/missing"),
		conda.NewRecord("d", "1", "0", "osx-64", "http://127.0.0.1:1/unreachable"),
	}
	res, err := f.Fetch(context.Background(), nil, inventory)
	if err != nil {
		t.Fatalf("failing endpoints must not fail the fetch: %v", err)
	}
	doc := res.Store["osx-64"]
	if doc == nil || len(doc.Packages) != 1 {
		t.Fatalf("expected only the healthy endpoint's entry, got %+v", doc)
	}
	if _, ok := doc.Version(); ok {
		t.Error("an upstream without version should leave it undefined")
	}
	if logs.Count("undecodable") != 1 {
		t.Errorf("expected a warning for the broken document:\n%s", logs.String())
	}
	if len(res.Endpoints) != 4 {
		t.Errorf("every endpoint should be reported, got %v", res.Endpoints)
	}
}

func TestFetch_SpecsSelectRecords(t *testing.T) {
	t.Parallel()

	_, srv := newUpstream(t, map[string]string{
		"/c/linux-64/patch_instructions.json": `{"packages": {"foo-1-0.tar.bz2": {}, "bar-1-0.tar.bz2": {}}}`,
		"/c/win-64/patch_instructions.json":   `{"packages": {"foo-1-0.tar.bz2": {}}}`,
	})
	f, logs := newTestFetcher(t, srv)

	inventory := []conda.PackageRecord{
		conda.NewRecord("foo", "1", "0", "linux-64", srv.URL+"/c"),
		conda.NewRecord("bar", "1", "0", "linux-64", srv.URL+"/c"),
		conda.NewRecord("foo", "1", "0", "win-64", srv.URL+"/c"),
	}
	res, err := f.Fetch(context.Background(), []string{"foo==1", "absent"}, inventory)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Store) != 2 || len(res.Store["linux-64"].Packages) != 1 {
		t.Errorf("only foo should be selected on both platforms: %v", res.Store.Platforms())
	}
	if len(res.NotFound) != 1 || res.NotFound[0].Name != "absent" {
		t.Errorf("not found = %v", res.NotFound)
	}
	if !strings.Contains(logs.String(), "package spec absent not found") {
		t.Errorf("missing spec warning:\n%s", logs.String())
	}
}

func TestFetch_AmbiguousSpec(t *testing.T) {
	t.Parallel()

	f := New()
	inventory := []conda.PackageRecord{
		conda.NewRecord("foo", "1", "0", "linux-64", "https://example.invalid/c"),
		conda.NewRecord("foo", "2", "0", "linux-64", "https://example.invalid/c"),
	}
	_, err := f.Fetch(context.Background(), []string{"foo"}, inventory)
	if !errors.Is(err, conda.ErrAmbiguousSpec) {
		t.Errorf("expected ErrAmbiguousSpec, got %v", err)
	}
}

func TestFetch_Canceled(t *testing.T) {
	t.Parallel()

	_, srv := newUpstream(t, map[string]string{})
	f, _ := newTestFetcher(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, nil, []conda.PackageRecord{conda.NewRecord("a", "1", "0", "noarch", srv.URL)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFetch_EmptyInventory(t *testing.T) {
	t.Parallel()

	res, err := New().Fetch(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !patch.Equal(res.Store, patch.Store{}) {
		t.Errorf("expected an empty store, got %v", res.Store.Platforms())
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	got := redactURL("https://user:pw@conda.example.org/ch/linux-64/patch_instructions.json?token=abc#frag")
	if got != "https://conda.example.org/ch/linux-64/patch_instructions.json" {
		t.Errorf("redactURL = %q", got)
	}
}
