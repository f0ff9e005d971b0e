// SPDX-License-Identifier: MPL-2.0

package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"condamirror/pkg/conda"
)

// ErrMissingInventoryFile is the sentinel error wrapped by MissingInventoryFileError.
var ErrMissingInventoryFile = errors.New("missing inventory file")

type (
	// MissingInventoryFileError names every inventory file that does not exist.
	MissingInventoryFileError struct {
		Paths []string
	}

	// listEntry is one element of `conda list --json` output. Older conda
	// versions and hand-written files use build instead of build_string.
	listEntry struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Build       string `json:"build"`
		BuildString string `json:"build_string"`
		Platform    string `json:"platform"`
		BaseURL     string `json:"base_url"`
		DistName    string `json:"dist_name"`
		URL         string `json:"url"`
	}
)

// Error implements the error interface.
func (e *MissingInventoryFileError) Error() string {
	return "missing conda list files: " + strings.Join(e.Paths, ", ")
}

// Unwrap returns ErrMissingInventoryFile for errors.Is() compatibility.
func (e *MissingInventoryFileError) Unwrap() error { return ErrMissingInventoryFile }

func (e listEntry) record() conda.PackageRecord {
	build := e.BuildString
	if build == "" {
		build = e.Build
	}
	r := conda.NewRecord(e.Name, e.Version, build, conda.Platform(e.Platform), e.BaseURL)
	if e.DistName != "" {
		r.DistName = e.DistName
	}
	r.URL = e.URL
	return r
}

// decodeList parses `conda list --json` output into records. Entries that
// cannot be addressed upstream are all reported, by position.
func decodeList(data []byte) ([]conda.PackageRecord, error) {
	var entries []listEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	records := make([]conda.PackageRecord, 0, len(entries))
	var errs []error
	for i, e := range entries {
		r := e.record()
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		records = append(records, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return records, nil
}

// ReadFiles concatenates the records of every file in order. All missing
// files are reported together before any is parsed.
func ReadFiles(paths []string) ([]conda.PackageRecord, error) {
	var missing []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingInventoryFileError{Paths: missing}
	}

	var records []conda.PackageRecord
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading inventory %s: %w", p, err)
		}
		recs, err := decodeList(data)
		if err != nil {
			return nil, fmt.Errorf("decoding inventory %s: %w", p, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}
