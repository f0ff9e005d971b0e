// SPDX-License-Identifier: MPL-2.0

package conda

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpecNotFound marks a requested spec that matched no record.
	// It is never returned as a fatal error; callers log it.
	ErrSpecNotFound = errors.New("package spec not found")

	// ErrAmbiguousSpec is the sentinel error wrapped by AmbiguousSpecError.
	ErrAmbiguousSpec = errors.New("ambiguous package spec")
)

type (
	// AmbiguousSpecError is returned when one spec resolves to several
	// candidates that cannot coexist, such as two builds on one platform or
	// two package names in one search result.
	AmbiguousSpecError struct {
		Spec       string
		Candidates []string
	}

	// SpecNotFoundError describes a spec that was dropped because nothing
	// matched it. It wraps ErrSpecNotFound.
	SpecNotFoundError struct {
		Spec PackageSpec
	}

	// Selection is the result of resolving specs against an inventory.
	Selection struct {
		// Records holds the selected records in inventory order.
		Records []PackageRecord
		// NotFound lists specs that matched nothing.
		NotFound []PackageSpec
	}
)

// Error implements the error interface.
func (e *AmbiguousSpecError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "search for %s yields more than one package:", e.Spec)
	for _, c := range e.Candidates {
		sb.WriteString("\n  ")
		sb.WriteString(c)
	}
	return sb.String()
}

// Unwrap returns ErrAmbiguousSpec for errors.Is() compatibility.
func (e *AmbiguousSpecError) Unwrap() error { return ErrAmbiguousSpec }

// Error implements the error interface.
func (e *SpecNotFoundError) Error() string {
	return fmt.Sprintf("package spec %s not found", e.Spec)
}

// Unwrap returns ErrSpecNotFound for errors.Is() compatibility.
func (e *SpecNotFoundError) Unwrap() error { return ErrSpecNotFound }

// SelectRecords resolves each spec to the records it names. A spec may match
// one record per platform; a second match on the same platform is an
// AmbiguousSpecError. Specs that match nothing are reported in NotFound.
func SelectRecords(records []PackageRecord, specs []PackageSpec) (Selection, error) {
	selected := make([]bool, len(records))
	var sel Selection

	for _, spec := range specs {
		byPlatform := make(map[Platform]int)
		matched := false
		for i, r := range records {
			if !spec.Matches(r) {
				continue
			}
			if prev, dup := byPlatform[r.Platform]; dup && records[prev].DistName != r.DistName {
				return Selection{}, &AmbiguousSpecError{
					Spec:       spec.String(),
					Candidates: []string{records[prev].String(), r.String()},
				}
			}
			byPlatform[r.Platform] = i
			selected[i] = true
			matched = true
		}
		if !matched {
			sel.NotFound = append(sel.NotFound, spec)
		}
	}

	for i, r := range records {
		if selected[i] {
			sel.Records = append(sel.Records, r)
		}
	}
	return sel, nil
}

// FilterRecords keeps every record matched by at least one spec. Specs that
// retained no record are returned separately so callers can warn about them.
func FilterRecords(records []PackageRecord, specs []PackageSpec) (kept []PackageRecord, notFound []PackageSpec) {
	used := make([]bool, len(specs))
	for _, r := range records {
		keep := false
		for j, spec := range specs {
			if spec.Matches(r) {
				used[j] = true
				keep = true
			}
		}
		if keep {
			kept = append(kept, r)
		}
	}
	for j, spec := range specs {
		if !used[j] {
			notFound = append(notFound, spec)
		}
	}
	return kept, notFound
}
