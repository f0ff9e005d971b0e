// SPDX-License-Identifier: MPL-2.0

// Package conda models package records and the name[==version[=build]] specs
// used to select them.
//
// Two selection patterns are provided:
//   - SelectRecords: spec -> records, used before fetching patch instructions.
//     A spec resolving to two builds on one platform is an AmbiguousSpecError.
//   - FilterRecords: record -> specs, used before mirroring artifacts. A record
//     is kept when any spec matches it.
package conda
