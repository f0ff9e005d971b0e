// SPDX-License-Identifier: MPL-2.0

package patchstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"condamirror/pkg/conda"
	"condamirror/pkg/patch"

	"github.com/charmbracelet/log"
)

const (
	// ArchiveName is the file holding the archived encoding.
	ArchiveName = "patch_instructions.tar.bz2"
	// ArchiveSuffix identifies archive paths given directly to Load.
	ArchiveSuffix = ".tar.bz2"

	stagingPrefix = ".condamirror-staging-"
	previousDir   = ".previous"
)

type (
	// Store reads and writes patch stores on the filesystem. Saves made
	// through one Store are serialized.
	Store struct {
		mu     sync.Mutex
		logger *log.Logger
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a Store.
func New(opts ...Option) *Store {
	s := &Store{logger: log.Default().WithPrefix("patchstore")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads a patch store from a directory or a .tar.bz2 archive.
//
// A directory holding {platform}/patch_instructions.json files is read as
// the expanded encoding, even when patch_instructions.tar.bz2 is also
// present. A directory with only the archive is read from the archive. An
// empty directory yields an empty store.
func (s *Store) Load(source string) (patch.Store, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch instructions: %w", err)
	}

	if !info.IsDir() {
		if strings.HasSuffix(source, ArchiveSuffix) {
			return s.readArchive(source)
		}
		return nil, &UnsupportedSourceError{Path: source}
	}

	files, err := expandedFiles(source)
	if err != nil {
		return nil, err
	}
	archive := filepath.Join(source, ArchiveName)
	hasArchive := fileExists(archive)

	if hasArchive && len(files) > 0 {
		s.logger.Warn("directory has both expanded and archived patch instructions, loading the expanded files", "dir", source)
	}
	if hasArchive && len(files) == 0 {
		return s.readArchive(archive)
	}
	s.logger.Debug("loading expanded patch instructions", "dir", source)
	return readExpanded(files)
}

// Save writes store to destination using opts.Encoding. When the
// destination already holds instructions in that encoding, opts.IfExists
// decides: overwrite discards them, merge writes Merge(store, existing), and
// any other policy returns a *PersistenceConflictError.
//
// Files are first written to a staging directory inside destination and
// then renamed into place. If an expanded save fails partway, the platform
// files already moved are restored.
func (s *Store) Save(ctx context.Context, store patch.Store, destination string, opts SaveOptions) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = ctx.Err(); err != nil {
		return err
	}

	enc := opts.Encoding
	if enc == "" {
		enc = EncodingArchived
	}
	if ok, errs := enc.IsValid(); !ok {
		return errors.Join(errs...)
	}

	existing, err := existingPaths(destination, enc)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		switch opts.IfExists {
		case PolicyOverwrite:
			s.logger.Debug("replacing existing patch instructions", "dir", destination)
		case PolicyMerge:
			s.logger.Debug("merging into existing patch instructions", "dir", destination)
			prior, loadErr := s.Load(destination)
			if loadErr != nil {
				return fmt.Errorf("failed to load existing patch instructions: %w", loadErr)
			}
			var mismatches []patch.VersionMismatch
			store, mismatches = patch.MergeWithReport(store, prior)
			for _, m := range mismatches {
				s.logger.Warn("patch_instructions_version mismatch", "platform", m.Platform, "previous", m.Previous, "current", m.Current)
			}
		default:
			return &PersistenceConflictError{Destination: destination, Paths: existing}
		}
	}

	platforms := store.Platforms()
	files := make(map[conda.Platform][]byte, len(platforms))
	for _, p := range platforms {
		data, encErr := patch.Encode(store[p])
		if encErr != nil {
			return fmt.Errorf("%s: %w", p, encErr)
		}
		files[p] = data
	}

	if err = os.MkdirAll(destination, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destination, err)
	}
	staging, err := os.MkdirTemp(destination, stagingPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil && err == nil {
			err = rmErr
		}
	}()

	s.logger.Debug("saving patch instructions", "dir", destination, "encoding", enc, "platforms", len(platforms))
	if enc == EncodingArchived {
		return saveArchived(staging, destination, platforms, files)
	}
	return s.saveExpanded(ctx, staging, destination, platforms, files, existing)
}

func saveArchived(staging, destination string, platforms []conda.Platform, files map[conda.Platform][]byte) error {
	staged := filepath.Join(staging, ArchiveName)
	if err := writeArchive(staged, platforms, files); err != nil {
		return err
	}
	if err := os.Rename(staged, filepath.Join(destination, ArchiveName)); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	return nil
}

func (s *Store) saveExpanded(ctx context.Context, staging, destination string, platforms []conda.Platform, files map[conda.Platform][]byte, existing []string) error {
	for _, p := range platforms {
		if err := ctx.Err(); err != nil {
			return err
		}
		staged := filepath.Join(staging, string(p), patch.FileName)
		if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
			return fmt.Errorf("failed to stage %s: %w", p, err)
		}
		if err := os.WriteFile(staged, files[p], 0o644); err != nil {
			return fmt.Errorf("failed to stage %s: %w", p, err)
		}
	}

	// Replaced files are parked under staging so a failed move can put
	// them back. A crash between moves can still leave a mix of platforms.
	type placed struct{ target, previous string }
	var done []placed
	undo := func() {
		for i := len(done) - 1; i >= 0; i-- {
			d := done[i]
			if d.previous == "" {
				_ = os.Remove(d.target)
				continue
			}
			_ = os.Rename(d.previous, d.target)
		}
	}

	written := make([]string, 0, len(platforms))
	for _, p := range platforms {
		target := filepath.Join(destination, string(p), patch.FileName)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			undo()
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
		}
		pl := placed{target: target}
		if fileExists(target) {
			pl.previous = filepath.Join(staging, previousDir, string(p), patch.FileName)
			if err := os.MkdirAll(filepath.Dir(pl.previous), 0o755); err != nil {
				undo()
				return fmt.Errorf("failed to stage %s: %w", p, err)
			}
			if err := os.Rename(target, pl.previous); err != nil {
				undo()
				return fmt.Errorf("failed to move %s aside: %w", target, err)
			}
		}
		s.logger.Debug("mv", "from", filepath.Join(string(p), patch.FileName), "to", target)
		if err := os.Rename(filepath.Join(staging, string(p), patch.FileName), target); err != nil {
			if pl.previous != "" {
				_ = os.Rename(pl.previous, target)
			}
			undo()
			return fmt.Errorf("failed to move %s into place: %w", p, err)
		}
		done = append(done, pl)
		written = append(written, target)
	}

	for _, old := range existing {
		if slices.Contains(written, old) {
			continue
		}
		s.logger.Debug("rm", "file", old)
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale %s: %w", old, err)
		}
	}
	return nil
}

func (s *Store) readArchive(archive string) (_ patch.Store, err error) {
	s.logger.Debug("loading archived patch instructions", "archive", archive)
	tmp, err := os.MkdirTemp("", "condamirror-patches-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err = extractArchive(archive, tmp); err != nil {
		return nil, err
	}
	files, err := expandedFiles(tmp)
	if err != nil {
		return nil, err
	}
	return readExpanded(files)
}

// existingPaths lists the files Save would replace for the given encoding.
func existingPaths(destination string, enc Encoding) ([]string, error) {
	if enc == EncodingArchived {
		archive := filepath.Join(destination, ArchiveName)
		if fileExists(archive) {
			return []string{archive}, nil
		}
		return nil, nil
	}
	return expandedFiles(destination)
}

// expandedFiles returns dir/{platform}/patch_instructions.json files in
// lexical order. Hidden directories are ignored and a missing dir has none.
func expandedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		f := filepath.Join(dir, e.Name(), patch.FileName)
		if fileExists(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

func readExpanded(files []string) (patch.Store, error) {
	store := make(patch.Store, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		doc, err := patch.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		store[conda.Platform(filepath.Base(filepath.Dir(f)))] = doc
	}
	return store, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
