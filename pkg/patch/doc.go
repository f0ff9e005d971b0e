// SPDX-License-Identifier: MPL-2.0

// Package patch models repodata patch instruction documents and merges them.
//
// A Store maps each platform (subdir) to a Document with four sections:
// packages, packages.conda, remove and revoke, plus an optional
// patch_instructions_version. Entry values are opaque JSON fragments.
package patch
