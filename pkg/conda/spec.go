// SPDX-License-Identifier: MPL-2.0

package conda

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPackageSpec is the sentinel error wrapped by InvalidPackageSpecError.
var ErrInvalidPackageSpec = errors.New("invalid package spec")

// specPattern accepts "name", "name==version", "name==version=build" and the
// single "=" form conda itself prints ("name=version=build").
var specPattern = regexp.MustCompile(`^(?P<name>[-_a-zA-Z0-9.]+)(?:==?(?P<version>[^=\s]+)(?:=(?P<build>[^=\s]+))?)?$`)

type (
	// PackageSpec selects package records by name and, optionally, by exact
	// version and build. Empty Version or Build matches any value.
	PackageSpec struct {
		Name    string
		Version string
		Build   string
	}

	// InvalidPackageSpecError is returned when a spec string does not follow
	// the name[==version[=build]] grammar.
	InvalidPackageSpecError struct {
		Value string
	}
)

// Error implements the error interface.
func (e *InvalidPackageSpecError) Error() string {
	return fmt.Sprintf("invalid package spec %q (expected name[==version[=build]])", e.Value)
}

// Unwrap returns ErrInvalidPackageSpec for errors.Is() compatibility.
func (e *InvalidPackageSpecError) Unwrap() error { return ErrInvalidPackageSpec }

// ParseSpec parses a single spec token.
func ParseSpec(s string) (PackageSpec, error) {
	s = strings.TrimSpace(s)
	m := specPattern.FindStringSubmatch(s)
	if m == nil {
		return PackageSpec{}, &InvalidPackageSpecError{Value: s}
	}
	return PackageSpec{
		Name:    m[specPattern.SubexpIndex("name")],
		Version: m[specPattern.SubexpIndex("version")],
		Build:   m[specPattern.SubexpIndex("build")],
	}, nil
}

// ParseSpecs parses every token, stopping at the first invalid one.
func ParseSpecs(tokens []string) ([]PackageSpec, error) {
	specs := make([]PackageSpec, 0, len(tokens))
	for _, tok := range tokens {
		spec, err := ParseSpec(tok)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Matches reports whether the record satisfies the spec. Name must be equal;
// version and build are only compared when the spec carries them.
func (s PackageSpec) Matches(r PackageRecord) bool {
	if s.Name != r.Name {
		return false
	}
	if s.Version != "" && s.Version != r.Version {
		return false
	}
	if s.Build != "" && s.Build != r.Build {
		return false
	}
	return true
}

// String renders the spec back in its canonical form.
func (s PackageSpec) String() string {
	switch {
	case s.Version == "":
		return s.Name
	case s.Build == "":
		return s.Name + "==" + s.Version
	default:
		return s.Name + "==" + s.Version + "=" + s.Build
	}
}

// Match parses specString and tests it against the record. A spec that does
// not parse matches nothing.
func Match(r PackageRecord, specString string) bool {
	spec, err := ParseSpec(specString)
	if err != nil {
		return false
	}
	return spec.Matches(r)
}
