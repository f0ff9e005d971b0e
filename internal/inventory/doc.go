// SPDX-License-Identifier: MPL-2.0

// Package inventory produces the list of package records a run works on.
//
// Three sources are supported, in order of precedence: inventory files
// holding `conda list --json` output, a remote `conda search` per requested
// spec, and a snapshot of the active environment (`conda list --json`),
// memoized per channel options for the life of the Provider.
package inventory
