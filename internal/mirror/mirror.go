// SPDX-License-Identifier: MPL-2.0

package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"condamirror/pkg/conda"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxParallel is the number of records downloaded at once.
const DefaultMaxParallel = 4

// ErrMissingOutput is returned when a download reported success but left no
// file named after the record.
var ErrMissingOutput = errors.New("downloaded file not found")

// DefaultURLRewrites redirects the public ASPECT channel to its internal host.
var DefaultURLRewrites = []URLRewrite{
	{From: "cxc.cfa.harvard.edu/mta/ASPECT", To: "icxc.cfa.harvard.edu/aspect"},
}

type (
	// URLRewrite replaces From with To in a record's base URL.
	URLRewrite struct {
		From string
		To   string
	}

	// Failure is a record that could not be mirrored.
	Failure struct {
		Record conda.PackageRecord
		Err    error
	}

	// Mirror copies package artifacts from their channels into a local tree
	// laid out as {dest}/{platform}/{file}.
	Mirror struct {
		downloader  Downloader
		rewrites    []URLRewrite
		maxParallel int
		logger      *log.Logger
	}

	// Option configures a Mirror.
	Option func(*Mirror)
)

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Record, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// WithURLRewrites replaces the default rewrite rules. They are applied in order.
func WithURLRewrites(rules []URLRewrite) Option {
	return func(m *Mirror) {
		m.rewrites = rules
	}
}

// WithMaxParallel bounds concurrent downloads. Values below 1 mean 1.
func WithMaxParallel(n int) Option {
	return func(m *Mirror) {
		m.maxParallel = max(n, 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Mirror) {
		m.logger = l
	}
}

// New creates a Mirror downloading with d.
func New(d Downloader, opts ...Option) *Mirror {
	m := &Mirror{
		downloader:  d,
		rewrites:    DefaultURLRewrites,
		maxParallel: DefaultMaxParallel,
		logger:      log.Default().WithPrefix("mirror"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run mirrors records into dest. A record is skipped, without any network
// access, when dest/{platform} already holds a file whose name starts with
// its dist name. Otherwise the .tar.bz2 artifact is tried first, then the
// .conda one.
//
// Per-record problems are returned as failures in input order and never stop
// the batch; the error is non-nil only when dest cannot be prepared or ctx
// is done.
func (m *Mirror) Run(ctx context.Context, records []conda.PackageRecord, dest string) ([]Failure, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	work, err := os.MkdirTemp(dest, ".condamirror-download-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	results := make([]error, len(records))
	seen := make(map[string]bool, len(records))

	var g errgroup.Group
	g.SetLimit(m.maxParallel)
	for i, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if seen[rec.String()] {
			continue
		}
		seen[rec.String()] = true

		g.Go(func() error {
			if err := m.mirrorOne(ctx, rec, dest, work); err != nil {
				m.logger.Warn("failed to mirror package", "package", rec.DistName, "platform", rec.Platform, "err", err)
				results[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	var failures []Failure
	for i, err := range results {
		if err != nil {
			failures = append(failures, Failure{Record: records[i], Err: err})
		}
	}
	if err := ctx.Err(); err != nil {
		return failures, err
	}
	return failures, nil
}

func (m *Mirror) mirrorOne(ctx context.Context, rec conda.PackageRecord, dest, work string) error {
	platformDir := filepath.Join(dest, string(rec.Platform))
	if present, err := findPrefixed(platformDir, rec.DistName); err != nil {
		return err
	} else if present != "" {
		m.logger.Debug("already mirrored", "package", rec.DistName, "file", present)
		return nil
	}

	rec = rec.WithBaseURL(m.rewrite(rec.BaseURL))
	workDir, err := os.MkdirTemp(work, "record-*")
	if err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	var lastErr error
	downloaded := false
	for _, candidate := range rec.ArtifactCandidates() {
		u := rec.ArtifactURL(candidate)
		m.logger.Debug("trying", "url", u)
		if _, err := m.downloader.Download(ctx, u, workDir); err != nil {
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		}
		downloaded = true
		break
	}
	if !downloaded {
		m.logger.Debug("failed", "package", rec.DistName)
		return lastErr
	}

	output, err := findPrefixed(workDir, rec.DistName)
	if err != nil {
		return err
	}
	if output == "" {
		return fmt.Errorf("%w: %s* in %s", ErrMissingOutput, rec.DistName, workDir)
	}

	if err := os.MkdirAll(platformDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", platformDir, err)
	}
	target := filepath.Join(platformDir, filepath.Base(output))
	m.logger.Debug("moving", "from", output, "to", platformDir)
	return moveFile(output, target)
}

func (m *Mirror) rewrite(baseURL string) string {
	for _, rw := range m.rewrites {
		if rw.From == "" {
			continue
		}
		baseURL = strings.ReplaceAll(baseURL, rw.From, rw.To)
	}
	return baseURL
}

// findPrefixed returns the path of the first regular file in dir whose name
// starts with prefix, or "" when there is none or dir does not exist.
func findPrefixed(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), prefix) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) (err error) {
	if err = os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".condamirror-move-*")
	if err != nil {
		return fmt.Errorf("failed to move %s: %w", src, err)
	}
	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to move %s: %w", src, err)
	}
	return os.Remove(src)
}
