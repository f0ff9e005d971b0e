// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"fmt"

	"condamirror/pkg/conda"
)

// VersionMismatch records a patch_instructions_version that replaced a
// different, earlier value for the same platform.
type VersionMismatch struct {
	Platform conda.Platform
	Previous int
	Current  int
	// Source identifies where the new value came from (an endpoint URL or
	// the input index of a merge); informational only.
	Source string
}

// String describes the mismatch for logs.
func (m VersionMismatch) String() string {
	return fmt.Sprintf("%s: patch_instructions_version %d replaced by %d (%s)", m.Platform, m.Previous, m.Current, m.Source)
}

// Merge combines stores platform by platform. See MergeWithReport.
func Merge(stores ...Store) Store {
	out, _ := MergeWithReport(stores...)
	return out
}

// MergeWithReport combines stores platform by platform:
//   - packages and packages.conda are unioned; a file name present in several
//     inputs takes the value of the last one,
//   - remove and revoke are unioned as sets,
//   - patch_instructions_version is taken from the last input defining it.
//
// Merge is order sensitive for conflicting map values and versions: callers
// must pass inputs lowest priority first. Inputs are not modified. Every
// change of version between inputs of one platform is reported.
func MergeWithReport(stores ...Store) (Store, []VersionMismatch) {
	out := make(Store)
	var mismatches []VersionMismatch

	for i, s := range stores {
		for _, p := range s.Platforms() {
			src := s[p]
			if src == nil {
				continue
			}
			dst := out.GetOrCreate(p)
			for k, v := range src.Packages {
				dst.Put(KeyPackages, k, v)
			}
			for k, v := range src.PackagesConda {
				dst.Put(KeyPackagesConda, k, v)
			}
			dst.Remove.Union(src.Remove)
			dst.Revoke.Union(src.Revoke)

			v, ok := src.Version()
			if !ok {
				continue
			}
			if prev, had := dst.Version(); had && prev != v {
				mismatches = append(mismatches, VersionMismatch{
					Platform: p,
					Previous: prev,
					Current:  v,
					Source:   fmt.Sprintf("input %d", i),
				})
			}
			dst.SetVersion(v)
		}
	}
	return out, mismatches
}
