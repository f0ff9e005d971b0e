// SPDX-License-Identifier: MPL-2.0

package conda

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ExtTarBz2 is the legacy artifact extension, tried first.
	ExtTarBz2 = ".tar.bz2"
	// ExtConda is the newer artifact extension, tried second.
	ExtConda = ".conda"
)

// ErrInvalidPackageRecord is the sentinel error wrapped by InvalidPackageRecordError.
var ErrInvalidPackageRecord = errors.New("invalid package record")

type (
	// Platform is a repository subdir such as "linux-64" or "noarch".
	Platform string

	// PackageRecord describes one package build known to a channel.
	PackageRecord struct {
		Name     string   `json:"name"`
		Version  string   `json:"version"`
		Build    string   `json:"build"`
		Platform Platform `json:"platform"`
		// BaseURL is the channel root, without the platform segment.
		BaseURL string `json:"base_url"`
		// DistName is "{name}-{version}-{build}".
		DistName string `json:"dist_name"`
		// URL is the artifact URL when the source reported one.
		URL string `json:"url,omitempty"`
	}

	// InvalidPackageRecordError is returned when a record lacks the fields
	// needed to address it upstream.
	InvalidPackageRecordError struct {
		DistName string
		Missing  []string
	}
)

// Error implements the error interface.
func (e *InvalidPackageRecordError) Error() string {
	return fmt.Sprintf("invalid package record %q: missing %s", e.DistName, strings.Join(e.Missing, ", "))
}

// Unwrap returns ErrInvalidPackageRecord for errors.Is() compatibility.
func (e *InvalidPackageRecordError) Unwrap() error { return ErrInvalidPackageRecord }

// String returns the platform name.
func (p Platform) String() string { return string(p) }

// NewRecord builds a record and derives its dist name.
func NewRecord(name, version, build string, platform Platform, baseURL string) PackageRecord {
	return PackageRecord{
		Name:     name,
		Version:  version,
		Build:    build,
		Platform: platform,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		DistName: DistName(name, version, build),
	}
}

// DistName joins the identifying triple of a package build.
func DistName(name, version, build string) string {
	return name + "-" + version + "-" + build
}

// Validate checks that the record can be addressed upstream.
func (r PackageRecord) Validate() error {
	var missing []string
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if r.Platform == "" {
		missing = append(missing, "platform")
	}
	if r.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if r.DistName == "" {
		missing = append(missing, "dist_name")
	}
	if len(missing) > 0 {
		return &InvalidPackageRecordError{DistName: r.DistName, Missing: missing}
	}
	return nil
}

// Endpoint is the per-platform directory of the record's channel.
func (r PackageRecord) Endpoint() string {
	return strings.TrimRight(r.BaseURL, "/") + "/" + string(r.Platform)
}

// ArtifactCandidates lists the file names the record may be published under,
// in the order they should be tried.
func (r PackageRecord) ArtifactCandidates() []string {
	return []string{r.DistName + ExtTarBz2, r.DistName + ExtConda}
}

// ArtifactURL is the download location of one candidate file name.
func (r PackageRecord) ArtifactURL(filename string) string {
	return r.Endpoint() + "/" + filename
}

// WithBaseURL returns a copy of the record pointing at another channel root.
func (r PackageRecord) WithBaseURL(baseURL string) PackageRecord {
	r.BaseURL = strings.TrimRight(baseURL, "/")
	return r
}

// String identifies the record in logs.
func (r PackageRecord) String() string {
	return string(r.Platform) + "/" + r.DistName
}
