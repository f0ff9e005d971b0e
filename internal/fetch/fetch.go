// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"condamirror/pkg/conda"
	"condamirror/pkg/patch"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds one upstream request.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxParallel is the number of endpoints fetched at once.
	DefaultMaxParallel = 4
	// defaultUserAgent is sent when no user agent is configured.
	defaultUserAgent = "condamirror"

	// maxDocumentBytes caps one upstream document. Large channels publish
	// patch files of a few tens of megabytes.
	maxDocumentBytes = 512 << 20
)

type (
	// Fetcher downloads patch instructions from channel endpoints.
	Fetcher struct {
		httpClient  *http.Client
		userAgent   string
		maxParallel int
		logger      *log.Logger
	}

	// Option configures a Fetcher during construction.
	Option func(*Fetcher)

	// Result is the outcome of one Fetch.
	Result struct {
		// Store holds, per platform, the entries upstream publishes for the records.
		Store patch.Store
		// Mismatches lists every patch_instructions_version overwritten by a
		// different value.
		Mismatches []patch.VersionMismatch
		// NotFound lists requested specs absent from the inventory.
		NotFound []conda.PackageSpec
		// Endpoints maps each endpoint queried to whether it served a document.
		Endpoints map[string]bool
	}
)

// WithHTTPClient sets the HTTP client. Its Timeout bounds each request.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithTimeout bounds each request with a fresh client using d.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.httpClient = &http.Client{Timeout: d}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxParallel bounds concurrent requests. Values below 1 mean 1.
func WithMaxParallel(n int) Option {
	return func(f *Fetcher) {
		f.maxParallel = max(n, 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		userAgent:   defaultUserAgent,
		maxParallel: DefaultMaxParallel,
		logger:      log.Default().WithPrefix("fetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the upstream patch entries for inventory. When specs is not
// empty the inventory is first reduced to the records the specs select;
// unmatched specs are logged and reported in Result.NotFound.
//
// Entries are gathered in inventory order, so for records sharing a
// platform the last one to define patch_instructions_version wins.
func (f *Fetcher) Fetch(ctx context.Context, specs []string, inventory []conda.PackageRecord) (*Result, error) {
	res := &Result{
		Store:     make(patch.Store),
		Endpoints: make(map[string]bool),
	}

	records := inventory
	if len(specs) > 0 {
		parsed, err := conda.ParseSpecs(specs)
		if err != nil {
			return nil, err
		}
		sel, err := conda.SelectRecords(inventory, parsed)
		if err != nil {
			return nil, err
		}
		for _, s := range sel.NotFound {
			f.logger.Warn("skipping package spec", "err", &conda.SpecNotFoundError{Spec: s})
		}
		records, res.NotFound = sel.Records, sel.NotFound
	}

	endpoints := distinctEndpoints(records)
	docs, err := f.fetchAll(ctx, endpoints)
	if err != nil {
		return nil, err
	}
	for _, ep := range endpoints {
		res.Endpoints[ep] = docs[ep] != nil
	}

	for _, r := range records {
		upstream := docs[r.Endpoint()]
		if upstream == nil {
			continue
		}
		section, key, frag, ok := upstream.Lookup(r.DistName)
		if !ok {
			continue
		}
		dst := res.Store.GetOrCreate(r.Platform)
		dst.Put(section, key, frag)

		v, defined := upstream.Version()
		if !defined {
			continue
		}
		if prev, had := dst.Version(); had && prev != v {
			m := patch.VersionMismatch{Platform: r.Platform, Previous: prev, Current: v, Source: r.Endpoint()}
			f.logger.Warn("patch_instructions_version mismatch",
				"platform", r.Platform, "previous", prev, "current", v, "endpoint", r.Endpoint())
			res.Mismatches = append(res.Mismatches, m)
		}
		dst.SetVersion(v)
	}
	return res, nil
}

// distinctEndpoints returns the sorted set of record endpoints.
func distinctEndpoints(records []conda.PackageRecord) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, r := range records {
		ep := r.Endpoint()
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	slices.Sort(out)
	return out
}

// fetchAll requests every endpoint with bounded parallelism. Results are
// keyed by endpoint so completion order does not matter. A failed endpoint
// maps to nil; only cancellation of ctx is an error.
func (f *Fetcher) fetchAll(ctx context.Context, endpoints []string) (map[string]*patch.Document, error) {
	results := make([]*patch.Document, len(endpoints))

	var g errgroup.Group
	g.SetLimit(f.maxParallel)
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = f.fetchOne(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetching patch instructions: %w", err)
	}

	docs := make(map[string]*patch.Document, len(endpoints))
	for i, ep := range endpoints {
		docs[ep] = results[i]
	}
	return docs, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, endpoint string) *patch.Document {
	reqURL := endpoint + "/" + patch.FileName
	logger := f.logger.With("url", redactURL(reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		logger.Debug("invalid endpoint", "err", err)
		return nil
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		logger.Debug("request failed", "err", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Debug("no patch instructions", "status", resp.StatusCode)
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		logger.Debug("reading response failed", "err", err)
		return nil
	}
	doc, err := patch.Decode(data)
	if err != nil {
		logger.Warn("ignoring undecodable patch instructions", "err", err)
		return nil
	}
	logger.Debug("fetched patch instructions", "packages", len(doc.Packages), "packages.conda", len(doc.PackagesConda))
	return doc
}

// redactURL drops credentials, query and fragment before logging.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
