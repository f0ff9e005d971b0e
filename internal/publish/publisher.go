// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"condamirror/internal/patchstore"

	"github.com/charmbracelet/log"
)

type (
	// Publisher uploads a mirror tree laid out as {root}/{platform}/{file}.
	Publisher struct {
		store  ObjectStore
		prefix string
		force  bool
		dryRun bool
		logger *log.Logger
	}

	// Option configures a Publisher.
	Option func(*Publisher)

	// Report lists the object keys a publish touched.
	Report struct {
		// Uploaded holds keys uploaded, or that would be in a dry run.
		Uploaded []string
		// Skipped holds keys already present with the same size.
		Skipped []string
		Failed  []UploadFailure
		DryRun  bool
	}

	// UploadFailure is one file that could not be checked or uploaded.
	UploadFailure struct {
		Key string
		Err error
	}

	localFile struct {
		key  string
		path string
		size int64
	}
)

// WithPrefix places every key under prefix.
func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = strings.Trim(prefix, "/")
	}
}

// WithForce uploads files even when an object of the same size exists.
func WithForce(force bool) Option {
	return func(p *Publisher) {
		p.force = force
	}
}

// WithDryRun reports what would be uploaded without uploading.
func WithDryRun(dryRun bool) Option {
	return func(p *Publisher) {
		p.dryRun = dryRun
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// New creates a Publisher writing to store.
func New(store ObjectStore, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: log.Default().WithPrefix("publish"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish uploads every file of root's platform directories and the
// patch_instructions.tar.bz2 archive at root. Hidden entries are ignored.
// Per-file errors are collected in the report; the error is non-nil only
// when root cannot be read or ctx is done.
func (p *Publisher) Publish(ctx context.Context, root string) (Report, error) {
	report := Report{DryRun: p.dryRun}

	files, err := p.collect(root)
	if err != nil {
		return report, err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !p.force {
			size, exists, statErr := p.store.Stat(ctx, f.key)
			if statErr != nil {
				p.logger.Warn("failed to check object", "key", f.key, "err", statErr)
				report.Failed = append(report.Failed, UploadFailure{Key: f.key, Err: statErr})
				continue
			}
			if exists && size == f.size {
				p.logger.Debug("already exists", "key", f.key)
				report.Skipped = append(report.Skipped, f.key)
				continue
			}
		}

		if p.dryRun {
			p.logger.Info("would upload", "key", f.key, "size", f.size)
			report.Uploaded = append(report.Uploaded, f.key)
			continue
		}

		p.logger.Info("uploading", "key", f.key, "size", f.size)
		if upErr := p.store.Upload(ctx, f.key, f.path); upErr != nil {
			p.logger.Warn("upload failed", "key", f.key, "err", upErr)
			report.Failed = append(report.Failed, UploadFailure{Key: f.key, Err: upErr})
			continue
		}
		report.Uploaded = append(report.Uploaded, f.key)
	}
	return report, nil
}

// collect lists {root}/{platform}/{file} in lexical order, followed by the
// archived patch instructions at the root when present.
func (p *Publisher) collect(root string) ([]localFile, error) {
	platforms, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror root: %w", err)
	}

	var files []localFile
	var archive *localFile
	for _, pd := range platforms {
		if pd.Type().IsRegular() && pd.Name() == patchstore.ArchiveName {
			info, err := pd.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", pd.Name(), err)
			}
			archive = &localFile{
				key:  path.Join(p.prefix, pd.Name()),
				path: filepath.Join(root, pd.Name()),
				size: info.Size(),
			}
			continue
		}
		if !pd.IsDir() || strings.HasPrefix(pd.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, pd.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
			}
			files = append(files, localFile{
				key:  path.Join(p.prefix, pd.Name(), e.Name()),
				path: filepath.Join(dir, e.Name()),
				size: info.Size(),
			})
		}
	}
	if archive != nil {
		files = append(files, *archive)
	}
	return files, nil
}
