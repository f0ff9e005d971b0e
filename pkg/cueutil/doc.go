// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds helpers shared by packages that validate CUE files
// against an embedded schema: path-aware error formatting and a size guard
// applied before compilation.
package cueutil
