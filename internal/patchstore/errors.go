// SPDX-License-Identifier: MPL-2.0

package patchstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPersistenceConflict is returned when the destination already holds
	// patch instructions and the conflict policy forbids touching them.
	ErrPersistenceConflict = errors.New("patch instructions already exist")

	// ErrInvalidArchive is returned when an archive holds an entry other than
	// {platform}/patch_instructions.json.
	ErrInvalidArchive = errors.New("invalid patch instructions archive")

	// ErrUnsupportedSource is returned when Load is given something that is
	// neither a directory nor a .tar.bz2 file.
	ErrUnsupportedSource = errors.New("cannot read patch instructions")

	// ErrInvalidEncoding is returned for an unknown Encoding value.
	ErrInvalidEncoding = errors.New("invalid patch store encoding")
)

type (
	// PersistenceConflictError lists the files a save would have replaced.
	PersistenceConflictError struct {
		Destination string
		Paths       []string
	}

	// InvalidArchiveEntryError names the offending member of an archive.
	InvalidArchiveEntryError struct {
		Archive string
		Entry   string
	}

	// UnsupportedSourceError is returned by Load for a path it cannot read.
	UnsupportedSourceError struct {
		Path string
	}

	// InvalidEncodingError is returned for an unknown Encoding value.
	InvalidEncodingError struct {
		Value Encoding
	}
)

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("patch instructions already exist at %s: %s", e.Destination, strings.Join(e.Paths, ", "))
}

func (e *PersistenceConflictError) Unwrap() error { return ErrPersistenceConflict }

func (e *InvalidArchiveEntryError) Error() string {
	return fmt.Sprintf("%s: unexpected entry %q (want {platform}/patch_instructions.json)", e.Archive, e.Entry)
}

func (e *InvalidArchiveEntryError) Unwrap() error { return ErrInvalidArchive }

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("cannot read patch instructions: %s (it must be a directory or a .tar.bz2 file)", e.Path)
}

func (e *UnsupportedSourceError) Unwrap() error { return ErrUnsupportedSource }

func (e *InvalidEncodingError) Error() string {
	return fmt.Sprintf("invalid patch store encoding %q (valid: expanded, archived)", e.Value)
}

func (e *InvalidEncodingError) Unwrap() error { return ErrInvalidEncoding }
